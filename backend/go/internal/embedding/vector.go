package embedding

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ToVectorString 将向量渲染为存储层使用的字面量，例如 "[0.1,-0.2,3]"，不含空格。
func ToVectorString(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v)*10 + 2)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// ParseVectorString 解析 ToVectorString 生成的字面量。
func ParseVectorString(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("invalid vector literal")
	}
	body := s[1 : len(s)-1]
	if strings.TrimSpace(body) == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// CosineDistance 返回 1 - cos(a, b)，越小越相似。长度不一致或零向量时返回 2（最大距离）。
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
