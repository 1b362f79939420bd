package index

import (
	"fmt"
	"strconv"
	"strings"
)

// VectorToString converts a float32 slice to the pgvector text literal
// "[1.0,2.0,3.0]" accepted by the vector type's input function.
func VectorToString(vector []float32) string {
	if len(vector) == 0 {
		return "[]"
	}

	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// StringToVector parses a pgvector text literal back into a float32 slice.
func StringToVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("invalid vector literal: %q", s)
	}

	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return []float32{}, nil
	}

	parts := strings.Split(inner, ",")
	vector := make([]float32, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %d: %w", i, err)
		}
		vector[i] = float32(v)
	}
	return vector, nil
}
