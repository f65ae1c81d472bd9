package xclid

import (
	"math"
	"strconv"
	"strings"
)

// cubic is a cubic bezier timing curve, evaluated by bisection the same way
// the web client does it.
type cubic struct {
	curves []float64
}

func (c *cubic) getValue(t float64) float64 {
	if t <= 0.0 {
		startGradient := 0.0
		if c.curves[0] > 0.0 {
			startGradient = c.curves[1] / c.curves[0]
		} else if c.curves[1] == 0.0 && c.curves[2] > 0.0 {
			startGradient = c.curves[3] / c.curves[2]
		}
		return startGradient * t
	}

	if t >= 1.0 {
		endGradient := 0.0
		if c.curves[2] < 1.0 {
			endGradient = (c.curves[3] - 1.0) / (c.curves[2] - 1.0)
		} else if c.curves[2] == 1.0 && c.curves[0] < 1.0 {
			endGradient = (c.curves[1] - 1.0) / (c.curves[0] - 1.0)
		}
		return 1.0 + endGradient*(t-1.0)
	}

	start, end, mid := 0.0, 1.0, 0.0
	for start < end {
		mid = (start + end) / 2
		xEst := bezier(c.curves[0], c.curves[2], mid)
		if math.Abs(t-xEst) < 0.00001 {
			return bezier(c.curves[1], c.curves[3], mid)
		}
		if xEst < t {
			start = mid
		} else {
			end = mid
		}
	}
	return bezier(c.curves[1], c.curves[3], mid)
}

func bezier(a, b, m float64) float64 {
	return 3.0*a*(1-m)*(1-m)*m + 3.0*b*(1-m)*m*m + m*m*m
}

func interpolate(from, to []float64, f float64) []float64 {
	out := make([]float64, len(from))
	for i := range from {
		out[i] = from[i]*(1-f) + to[i]*f
	}
	return out
}

func rotationMatrix(rotation float64) []float64 {
	rad := rotation * math.Pi / 180
	return []float64{math.Cos(rad), -math.Sin(rad), math.Sin(rad), math.Cos(rad)}
}

// solve maps a byte onto [minVal, maxVal], either floored or rounded to two
// decimals.
func solve(value, minVal, maxVal float64, rounding bool) float64 {
	result := value*(maxVal-minVal)/255 + minVal
	if rounding {
		return math.Floor(result)
	}
	return math.Round(result*100) / 100
}

// floatToHex renders x in hexadecimal with a fractional part, matching the
// web client's digit-by-digit construction (uppercase letters included).
func floatToHex(x float64) string {
	quotient := int(x)
	fraction := x - float64(quotient)

	var result []byte
	for quotient > 0 {
		quotient = int(x / 16)
		remainder := int(x - float64(quotient)*16)
		if remainder > 9 {
			result = append([]byte{byte(remainder + 55)}, result...)
		} else {
			result = append([]byte{byte('0' + remainder)}, result...)
		}
		x = float64(quotient)
	}

	if fraction == 0 {
		return string(result)
	}
	result = append(result, '.')
	for fraction > 0 {
		fraction *= 16
		integer := int(fraction)
		fraction -= float64(integer)
		if integer > 9 {
			result = append(result, byte(integer+55))
		} else {
			result = append(result, byte('0'+integer))
		}
	}
	return string(result)
}

// calcAnimKey folds one animation frame row and a frame time into the key
// string mixed into every transaction id.
func calcAnimKey(frames []float64, targetTime float64) string {
	fromColor := []float64{frames[0], frames[1], frames[2], 1}
	toColor := []float64{frames[3], frames[4], frames[5], 1}
	toRotation := solve(frames[6], 60.0, 360.0, true)

	rest := frames[7:]
	curves := make([]float64, len(rest))
	for i, x := range rest {
		lo := 0.0
		if i%2 == 1 {
			lo = -1.0
		}
		curves[i] = solve(x, lo, 1.0, false)
	}
	val := (&cubic{curves}).getValue(targetTime)

	color := interpolate(fromColor, toColor, val)
	for i, v := range color {
		if v < 0 {
			color[i] = 0
		}
	}
	rotation := interpolate([]float64{0}, []float64{toRotation}, val)
	matrix := rotationMatrix(rotation[0])

	var parts []string
	for _, v := range color[:len(color)-1] {
		parts = append(parts, strconv.FormatInt(int64(math.Round(v)), 16))
	}
	for _, v := range matrix {
		rounded := math.Round(v*100) / 100
		if rounded < 0 {
			rounded = -rounded
		}
		hexValue := floatToHex(rounded)
		switch {
		case strings.HasPrefix(hexValue, "."):
			parts = append(parts, strings.ToLower("0"+hexValue))
		case hexValue != "":
			parts = append(parts, hexValue)
		default:
			parts = append(parts, "0")
		}
	}
	parts = append(parts, "0", "0")

	return strings.NewReplacer(".", "", "-", "").Replace(strings.Join(parts, ""))
}
