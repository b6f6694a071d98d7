package zone

// 文档注释：轻量 geohash 编码（base32）
// 背景：作为定位缓存键；精度 9 约 4.8m×4.8m。
// 约束：先把经纬度量化为定长整数再交错取位，与逐位二分结果相同；键只用于挑选优先尝试的区域，命中后仍做精确判定。
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// quantize：把 [min, min+span) 上的值映射为 bits 位整数，越界时钳位
func quantize(v, min, span float64, bits uint) uint64 {
	top := uint64(1)<<bits - 1
	f := (v - min) / span
	if f <= 0 {
		return 0
	}
	q := uint64(f * float64(uint64(1)<<bits))
	if q > top {
		return top
	}
	return q
}

func encodeGeohash(lat, lng float64, precision int) string {
	total := uint(precision * 5)
	lngBits := (total + 1) / 2
	latBits := total / 2
	qLng := quantize(lng, -180, 360, lngBits)
	qLat := quantize(lat, -90, 180, latBits)

	out := make([]byte, precision)
	var acc byte
	for i := uint(0); i < total; i++ {
		var b uint64
		if i%2 == 0 {
			lngBits--
			b = qLng >> lngBits & 1
		} else {
			latBits--
			b = qLat >> latBits & 1
		}
		acc = acc<<1 | byte(b)
		if i%5 == 4 {
			out[i/5] = base32[acc]
			acc = 0
		}
	}
	return string(out)
}
