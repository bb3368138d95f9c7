package finnhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySector(t *testing.T) {
	tests := []struct {
		headline string
		want     string
	}{
		{"Nvidia unveils next-gen AI chip lineup", "technology"},
		{"OPEC extends crude production cuts", "energy"},
		{"FDA approves new biotech cancer drug", "healthcare"},
		{"Federal Reserve signals rate path ahead", "finance"},
		{"Retail sales climb in July", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifySector(tt.headline), "headline: %q", tt.headline)
	}
}

func TestClassifySectorCaseInsensitive(t *testing.T) {
	assert.Equal(t, "technology", classifySector("SEMICONDUCTOR stocks rally"))
	assert.Equal(t, "energy", classifySector("Oil prices slip on demand worries"))
}
