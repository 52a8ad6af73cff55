package services

import (
	"testing"

	"study-aggregator/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(t *testing.T) *IdentifierNormalizer {
	t.Helper()
	rules, err := config.LoadRules("")
	require.NoError(t, err)
	n, err := NewIdentifierNormalizer(rules.IdentifierRules)
	require.NoError(t, err)
	return n
}

func TestNormalizeRegistryFormats(t *testing.T) {
	n := newTestNormalizer(t)

	cases := []struct {
		name   string
		source int
		raw    string
		want   []string
	}{
		{"ctg plain", 100120, "NCT01234567", []string{"NCT01234567"}},
		{"ctg lower with noise", 100120, " clinicaltrials.gov identifier: nct01234567 ", []string{"NCT01234567"}},
		{"ctg short width", 100120, "NCT 1234567", []string{"NCT01234567"}},
		{"ctg digits only", 100120, "01234567", []string{"NCT01234567"}},
		{"ctg doubled prefix", 100120, "NCTNCT01234567", []string{"NCT01234567"}},
		{"ctg two ids", 100120, "NCT01234567; NCT07654321", []string{"NCT01234567", "NCT07654321"}},
		{"ctg and", 100120, "NCT01234567 and NCT07654321", []string{"NCT01234567", "NCT07654321"}},
		{"isrctn colon", 100126, "ISRCTN: 11223344", []string{"ISRCTN11223344"}},
		{"euctr", 100123, "EudraCT number 2004-000123-45", []string{"2004-000123-45"}},
		{"euctr with country", 100123, "2004-000123-45-DE", []string{"2004-000123-45"}},
		{"drks", 100124, "drks00012345", []string{"DRKS00012345"}},
		{"chictr restore", 100118, "chictr2000012345", []string{"ChiCTR2000012345"}},
		{"chictr old form", 100118, "CHICTR-TRC-12001234", []string{"ChiCTR-TRC-12001234"}},
		{"jprn jrcts", 100127, "JPRN-jRCTs031180001", []string{"JPRN-jRCTs031180001"}},
		{"jprn jrct", 100127, "jprn-jrct1031180001", []string{"JPRN-jRCT1031180001"}},
		{"jprn umin", 100127, "JPRN-UMIN000012345", []string{"JPRN-UMIN000012345"}},
		{"rebec", 100117, "rbr-7bqxm2", []string{"RBR-7bqxm2"}},
		{"ctri", 100121, "CTRI/2019/05/019123", []string{"CTRI/2019/05/019123"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, n.Normalize(tc.source, tc.raw))
		})
	}
}

func TestNormalizeRejectsJunkAndPlaceholders(t *testing.T) {
	n := newTestNormalizer(t)

	for _, raw := range []string{"", "   ", "N/A", "unknown", "Not registered", "NCT00000000", "NCT99999999", "NCT012345678"} {
		assert.Empty(t, n.Normalize(100120, raw), "raw %q", raw)
	}
	assert.Empty(t, n.Normalize(100126, "ISRCTN12345678"))
	assert.Empty(t, n.Normalize(100123, "0000-000000-00"))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := newTestNormalizer(t)

	samples := map[int][]string{
		100120: {"nct 1234567", "NCT01234567, NCT07654321"},
		100126: {"isrctn 11223344"},
		100123: {"EUDRACT 2004-000123-45"},
		100124: {"DRKS 12345"},
		100116: {"ACTRN12610000123456"},
		100118: {"ChiCTR-IOR-17012345", "chictr2000012345"},
		100121: {"CTRI/2019/05/019123"},
		100127: {"jprn-jrcts031180001", "JPRN-JapicCTI-123456"},
		100128: {"PACTR201905123456789"},
		100132: {"NL12345", "NTR1234", "NL-OMON12345"},
		100119: {"KCT0001234"},
		100125: {"IRCT20100101001234N1"},
		100117: {"RBR-7BQXM2"},
		100131: {"TCTR20190101001"},
		100130: {"SLCTR/2019/012"},
		100122: {"RPCEC00000123"},
		100129: {"PER-012-19"},
		999999: {"  Some   Local ID "},
	}
	for source, raws := range samples {
		for _, raw := range raws {
			first := n.Normalize(source, raw)
			require.NotEmpty(t, first, "source %d raw %q", source, raw)
			for _, v := range first {
				assert.Equal(t, []string{v}, n.Normalize(source, v), "source %d value %q", source, v)
			}
		}
	}
}

func TestNormalizeWithoutRuleOnlyFolds(t *testing.T) {
	n := newTestNormalizer(t)

	assert.False(t, n.HasRule(101900))
	assert.Equal(t, []string{"HLB 0114 a"}, n.Normalize(101900, "  HLB   0114 a "))
	assert.Empty(t, n.Normalize(101900, "n/a"))
}

func TestNewIdentifierNormalizerRejectsBadPattern(t *testing.T) {
	_, err := NewIdentifierNormalizer([]config.IdentifierRule{{SourceID: 1, Pattern: "("}})
	assert.Error(t, err)
}
