package sharder

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"pii-redact/internal/model"
)

// DefaultCanaryCount is K, the default number of synthetic canary shards
// injected per verification call (spec section 4.5.3).
const DefaultCanaryCount = 3

// CanaryExpectation records what entity type a canary shard was generated
// to contain, so canary evaluation can compare it against what the
// external verifier actually reports.
type CanaryExpectation struct {
	ShardID      string
	ExpectedType string
}

var canaryTemplates = []struct {
	entityType string
	render     func() string
}{
	{"EMAIL", func() string { return fmt.Sprintf("Please reach canary.user.%d@example-mail.test for details.", randN(100000)) }},
	{"PHONE", func() string { return fmt.Sprintf("Call the canary line at (555) %03d-%04d.", randN(1000), randN(10000)) }},
	{"SSN", func() string { return fmt.Sprintf("Reference SSN %03d-%02d-%04d was used for testing.", randN(1000), randN(100), randN(10000)) }},
	{"PERSON", func() string { return "A person named Cassidy Marlowe reviewed the canary shard." }},
}

func randN(max int64) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0
	}
	return n.Int64()
}

// InjectCanaries generates count synthetic shards containing known-type
// PII, marks them IsCanary, and returns both the augmented shard list and
// the expectations to check findings against later.
func InjectCanaries(shards []model.Shard, count int) ([]model.Shard, []CanaryExpectation) {
	if count <= 0 {
		count = DefaultCanaryCount
	}
	out := append([]model.Shard{}, shards...)
	var expectations []CanaryExpectation
	for i := 0; i < count; i++ {
		tpl := canaryTemplates[i%len(canaryTemplates)]
		shard := model.Shard{
			ID:       uuid.NewString(),
			Text:     tpl.render(),
			IsCanary: true,
		}
		out = append(out, shard)
		expectations = append(expectations, CanaryExpectation{ShardID: shard.ID, ExpectedType: tpl.entityType})
	}
	return out, expectations
}
