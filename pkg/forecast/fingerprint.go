package forecast

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/demandcast/pkg/demand"
)

// ModelFingerprint hashes everything the fitted model depends on: every
// history count and every outlier tag. Multipliers only matter at
// extrapolation time and are left out.
func ModelFingerprint(history []demand.HistoryRecord, outliers []demand.ManualOutlier) uint64 {
	d := xxhash.New()
	var buf [8]byte

	for _, r := range history {
		d.WriteString(r.Bucket.String())
		binary.BigEndian.PutUint64(buf[:], uint64(int64(r.Count)))
		d.Write(buf[:])
	}
	// separator so history and outliers cannot alias
	d.Write([]byte{0xff})
	for _, o := range outliers {
		d.WriteString(o.Bucket.String())
	}
	return d.Sum64()
}

// PredictionsETag returns a strong ETag for a list of stored predictions.
func PredictionsETag(ps []demand.Prediction) string {
	d := xxhash.New()
	var buf [8]byte
	for _, p := range ps {
		d.WriteString(p.Bucket.String())
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(p.Count))
		d.Write(buf[:])
	}
	return `"` + strconv.FormatUint(d.Sum64(), 16) + `"`
}
