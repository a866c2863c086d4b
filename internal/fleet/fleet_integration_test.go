//go:build integration

package fleet_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"fleettools/internal/checkpoint"
	"fleettools/internal/config"
	"fleettools/internal/event"
	"fleettools/internal/fleet"
	"fleettools/internal/locks"
	"fleettools/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain ensures no goroutines leak during integration tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCoordinator_Integration(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "fleet_integration_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	ctx := context.Background()

	t.Run("PersistenceAcrossReopen", func(t *testing.T) {
		coord, err := fleet.Open(config.DefaultOptions(tempDir))
		require.NoError(t, err)

		_, err = coord.RegisterPilot(ctx, fleet.RegisterParams{
			Callsign: "callsign-durable",
			Program:  "opencode",
			Model:    "claude-sonnet",
		})
		require.NoError(t, err)

		mission, err := coord.CreateMission(ctx, fleet.MissionParams{Title: "Durable work", Priority: 1})
		require.NoError(t, err)
		_, err = coord.StartMission(ctx, mission.MissionID)
		require.NoError(t, err)

		sortie, err := coord.CreateSortie(ctx, fleet.SortieParams{
			MissionID: mission.MissionID,
			Title:     "survive a restart",
			Priority:  1,
			Assignee:  "callsign-durable",
		})
		require.NoError(t, err)

		msg, err := coord.SendMessage(ctx, fleet.SendParams{
			From:        "callsign-durable",
			To:          []string{"callsign-durable"},
			Subject:     "note to self",
			AckRequired: true,
			MissionID:   mission.MissionID,
		})
		require.NoError(t, err)

		cp, err := coord.CreateCheckpoint(ctx, checkpoint.CreateParams{
			MissionID: mission.MissionID,
			Callsign:  "callsign-durable",
			Trigger:   types.TriggerManual,
			Summary:   "before restart",
		})
		require.NoError(t, err)

		countBefore, err := coord.Store().Count(ctx)
		require.NoError(t, err)
		require.NoError(t, coord.Close())

		// Everything must come back from disk.
		reopened, err := fleet.Open(config.DefaultOptions(tempDir))
		require.NoError(t, err)
		defer reopened.Close()

		countAfter, err := reopened.Store().Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, countBefore, countAfter)

		pilot, err := reopened.GetPilot(ctx, "callsign-durable")
		require.NoError(t, err)
		assert.Equal(t, "opencode", pilot.Program)

		back, err := reopened.GetSortie(ctx, sortie.SortieID)
		require.NoError(t, err)
		assert.Equal(t, "survive a restart", back.Title)

		inbox, err := reopened.ListInbox(ctx, "callsign-durable", fleet.InboxFilter{})
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.Equal(t, msg.MessageID, inbox[0].MessageID)

		latest, err := reopened.GetLatestCheckpoint(ctx, mission.MissionID)
		require.NoError(t, err)
		assert.Equal(t, cp.CheckpointID, latest.CheckpointID)
	})

	t.Run("ConcurrentAppendsStayGapless", func(t *testing.T) {
		coord, err := fleet.Open(config.DefaultOptions(tempDir))
		require.NoError(t, err)
		defer coord.Close()

		before, err := coord.Store().GetLatestSequence(ctx)
		require.NoError(t, err)

		const workers = 8
		const beatsPerWorker = 25

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				callsign := fmt.Sprintf("callsign-w%d", n)
				_, err := coord.RegisterPilot(ctx, fleet.RegisterParams{Callsign: callsign, Program: "opencode"})
				assert.NoError(t, err)
				for j := 0; j < beatsPerWorker; j++ {
					_, err := coord.PilotHeartbeat(ctx, callsign)
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()

		after, err := coord.Store().GetLatestSequence(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+workers*(beatsPerWorker+1), after)

		count, err := coord.Store().Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, after, count, "gapless log: highest sequence equals event count")
	})

	t.Run("ConcurrentLockContention", func(t *testing.T) {
		coord, err := fleet.Open(config.DefaultOptions(tempDir))
		require.NoError(t, err)
		defer coord.Close()

		const racers = 8
		results := make([]*types.LockResult, racers)

		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				res, err := coord.AcquireLock(ctx, locks.LockRequest{
					Path:     "src/contended.ts",
					Callsign: fmt.Sprintf("callsign-r%d", n),
					Purpose:  types.PurposeEdit,
					TTL:      time.Minute,
				})
				if assert.NoError(t, err) {
					results[n] = res
				}
			}(i)
		}
		wg.Wait()

		var winner *types.LockResult
		losers := 0
		for _, res := range results {
			require.NotNil(t, res)
			if res.Conflict {
				losers++
				require.NotNil(t, res.Existing)
			} else {
				winner = res
			}
		}
		require.NotNil(t, winner, "exactly one racer must win")
		assert.Equal(t, racers-1, losers)
		for _, res := range results {
			if res.Conflict {
				assert.Equal(t, winner.Lock.Holder, res.Existing.Holder)
			}
		}

		_, err = coord.ReleaseLock(ctx, winner.Lock.LockID, winner.Lock.Holder)
		require.NoError(t, err)

		retry, err := coord.AcquireLock(ctx, locks.LockRequest{
			Path:     "src/contended.ts",
			Callsign: "callsign-late",
			Purpose:  types.PurposeEdit,
		})
		require.NoError(t, err)
		assert.False(t, retry.Conflict)
	})

	t.Run("RebuildSurvivesReopen", func(t *testing.T) {
		coord, err := fleet.Open(config.DefaultOptions(tempDir))
		require.NoError(t, err)

		count, err := coord.Store().Count(ctx)
		require.NoError(t, err)

		report, err := coord.RebuildAllProjections(ctx)
		require.NoError(t, err)
		assert.Equal(t, int(count), report.EventsReplayed)
		require.NoError(t, coord.Close())

		reopened, err := fleet.Open(config.DefaultOptions(tempDir))
		require.NoError(t, err)
		defer reopened.Close()

		pilot, err := reopened.GetPilot(ctx, "callsign-durable")
		require.NoError(t, err)
		assert.Equal(t, types.PilotActive, pilot.Status)
	})

	t.Run("TailerFollowsFileBackedLog", func(t *testing.T) {
		coord, err := fleet.Open(config.DefaultOptions(tempDir))
		require.NoError(t, err)
		defer coord.Close()

		var mu sync.Mutex
		var delivered []*event.Event
		tailer, err := coord.NewTailer(fleet.TailerOptions{
			Consumer: "integration-tail",
			Interval: 20 * time.Millisecond,
		}, func(_ context.Context, batch []*event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			delivered = append(delivered, batch...)
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, tailer.Start(ctx))
		defer tailer.Stop()

		_, err = coord.PilotHeartbeat(ctx, "callsign-durable")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(delivered) == 1
		}, 2*time.Second, 10*time.Millisecond)

		mu.Lock()
		assert.Equal(t, event.TypePilotActive, delivered[0].Type)
		mu.Unlock()
	})
}
