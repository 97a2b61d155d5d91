package verify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidateDomains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		business Business
		want     []string
	}{
		{
			name:     "default ordering",
			business: Business{Name: "Acme Webdesign"},
			want:     []string{"acmewebdesign.nl", "acmewebdesign.com", "acmewebdesign.be", "acmewebdesign.de", "acmewebdesign.lu"},
		},
		{
			name:     "country tld first",
			business: Business{Name: "Acme", Country: "Belgium"},
			want:     []string{"acme.be", "acme.nl", "acme.com", "acme.de", "acme.lu"},
		},
		{
			name:     "punctuation and case stripped",
			business: Business{Name: "De-Boer & Zn. 12", Country: "Netherlands"},
			want:     []string{"deboerzn12.nl", "deboerzn12.com", "deboerzn12.be", "deboerzn12.de", "deboerzn12.lu"},
		},
		{
			name:     "empty after normalization",
			business: Business{Name: "---"},
			want:     nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, CandidateDomains(tc.business))
		})
	}
}

func TestCandidateDomains_UnknownCountryFallsBack(t *testing.T) {
	t.Parallel()

	got := CandidateDomains(Business{Name: "Acme", Country: "France"})
	require.Equal(t, []string{"acme.nl", "acme.com", "acme.be", "acme.de", "acme.lu"}, got)
}
