package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmesh/vidmesh/internal/event"
	"github.com/vidmesh/vidmesh/internal/trust"
)

type fakeNetwork struct {
	reports   []*event.Event
	queryErr  error
	reportErr error
	reported  []string
}

func (f *fakeNetwork) PublicKey() string { return strings.Repeat("ab", 32) }

func (f *fakeNetwork) Query(context.Context, event.Filter) ([]*event.Event, error) {
	return f.reports, f.queryErr
}

func (f *fakeNetwork) Report(_ context.Context, itemID, _, _ string) error {
	f.reported = append(f.reported, itemID)
	return f.reportErr
}

func reportsAt(times ...int64) []*event.Event {
	evs := make([]*event.Event, len(times))
	for i, ts := range times {
		evs[i] = &event.Event{
			ID:        fmt.Sprintf("%064d", i),
			Kind:      event.KindReport,
			CreatedAt: ts,
		}
	}
	return evs
}

func TestVelocityMultiplier(t *testing.T) {
	base := time.Now().Unix()
	cases := []struct {
		name    string
		reports []*event.Event
		want    float64
	}{
		{"no reports", nil, 1.0},
		{"below threshold", reportsAt(base, base+1, base+2, base+3), 1.0},
		{"burst at threshold", reportsAt(base, base+30, base+60, base+90, base+120), 3.0},
		{"spread exactly window", reportsAt(base, base+75, base+150, base+225, base+300), 3.0},
		{"spread just over window", reportsAt(base, base+75, base+150, base+225, base+301), 1.0},
		{"threshold minus one in tight window", reportsAt(base, base+1, base+2, base+3), 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			net := &fakeNetwork{reports: tc.reports}
			g := NewGateway(net, trust.NewEngine(0, nil), DefaultConfig(), nil)
			assert.Equal(t, tc.want, g.VelocityMultiplier(context.Background(), "item"))
		})
	}
}

func TestVelocityMultiplier_QueryFailureDefaultsToBase(t *testing.T) {
	net := &fakeNetwork{queryErr: errors.New("relays down")}
	g := NewGateway(net, trust.NewEngine(0, nil), DefaultConfig(), nil)
	assert.Equal(t, 1.0, g.VelocityMultiplier(context.Background(), "item"))
}

func TestSubmitReport_AppliesPenaltyAndPublishes(t *testing.T) {
	net := &fakeNetwork{}
	engine := trust.NewEngine(0, nil)
	g := NewGateway(net, engine, DefaultConfig(), nil)
	author := strings.Repeat("cd", 32)

	require.NoError(t, g.SubmitReport(context.Background(), "item1", author, "spam"))
	assert.Equal(t, []string{"item1"}, net.reported)

	// reporter prior score 0.5, base 10, no burst: beta += 5
	rec := engine.Record(author)
	assert.InDelta(t, 6.0, rec.Beta, 1e-9)
}

func TestSubmitReport_PenaltyKeptWhenPublicationFails(t *testing.T) {
	net := &fakeNetwork{reportErr: errors.New("all relays down")}
	engine := trust.NewEngine(0, nil)
	g := NewGateway(net, engine, DefaultConfig(), nil)
	author := strings.Repeat("cd", 32)

	err := g.SubmitReport(context.Background(), "item1", author, "spam")
	assert.ErrorIs(t, err, ErrReportSubmissionFailed)
	assert.Greater(t, engine.Record(author).Beta, 1.0)
}

// Burst scenario: five reports inside 120 seconds amplify each
// penalty; with 0.2-score reporters the author's score must sink below
// the hide threshold.
func TestSubmitReport_BurstHidesAuthor(t *testing.T) {
	base := time.Now().Unix()
	net := &fakeNetwork{reports: reportsAt(base, base+30, base+60, base+90, base+120)}
	engine := trust.NewEngine(0.35, nil)
	g := NewGateway(net, engine, DefaultConfig(), nil)

	author := strings.Repeat("cd", 32)
	engine.RecordPositive(author, strings.Repeat("ef", 32), 0.09) // prior standing

	mult := g.VelocityMultiplier(context.Background(), "item")
	require.Equal(t, 3.0, mult)

	require.NoError(t, g.SubmitReport(context.Background(), "item", author, "spam"))
	// reporter score 0.5: beta += 0.5*10*3 = 15 on top of prior 1
	assert.True(t, engine.ShouldHide(author))
}
