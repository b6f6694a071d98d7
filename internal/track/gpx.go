// 包 track：读取 GPX 轨迹，供离线回放使用
package track

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"fog-api/internal/geo"
)

// Sample：一个带时间的轨迹点；文件未给出时间时 Time 为零值
type Sample struct {
	geo.Point
	Time time.Time
}

type gpxFile struct {
	Tracks []struct {
		Segments []struct {
			Points []gpxPoint `xml:"trkpt"`
		} `xml:"trkseg"`
	} `xml:"trk"`
	Waypoints []gpxPoint `xml:"wpt"`
}

type gpxPoint struct {
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Time string  `xml:"time"`
}

// 文档注释：解析 GPX
// 约束：按文件中的轨迹/轨迹段顺序展开 trkpt；没有任何 trkpt 时退回使用 wpt。经纬度越界的点跳过。
// 所有点都带时间时按时间稳定排序，否则保持文件顺序。
func ParseGPX(r io.Reader) ([]Sample, error) {
	var f gpxFile
	if err := xml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode gpx: %w", err)
	}
	var raw []gpxPoint
	for _, t := range f.Tracks {
		for _, s := range t.Segments {
			raw = append(raw, s.Points...)
		}
	}
	if len(raw) == 0 {
		raw = f.Waypoints
	}
	out := make([]Sample, 0, len(raw))
	timed := true
	for _, p := range raw {
		if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			continue
		}
		s := Sample{Point: geo.Point{Lat: p.Lat, Lng: p.Lon}}
		if p.Time != "" {
			if ts, err := time.Parse(time.RFC3339, p.Time); err == nil {
				s.Time = ts
			}
		}
		if s.Time.IsZero() {
			timed = false
		}
		out = append(out, s)
	}
	if timed {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	}
	return out, nil
}

func LoadGPXFile(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	samples, err := ParseGPX(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}
