package fleet

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"fleettools/internal/store"
	"fleettools/internal/types"
)

// Overview assembles the status surface in one shot. The reads fan out on an
// errgroup; each goroutine fills a distinct field of the result, so the only
// synchronization needed is the group wait.
func (c *Coordinator) Overview(ctx context.Context) (*types.Overview, error) {
	ov := &types.Overview{Project: c.store.Project()}
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		pilots, err := c.store.ListPilots(egCtx, false)
		if err != nil {
			return err
		}
		ov.Pilots = make([]types.Pilot, 0, len(pilots))
		for _, p := range pilots {
			ov.Pilots = append(ov.Pilots, *p)
		}
		return nil
	})

	eg.Go(func() error {
		reservations, err := c.locks.ActiveReservations(egCtx, "")
		if err != nil {
			return err
		}
		ov.ActiveReservations = make([]types.Reservation, 0, len(reservations))
		for _, r := range reservations {
			ov.ActiveReservations = append(ov.ActiveReservations, *r)
		}
		return nil
	})

	eg.Go(func() error {
		held, err := c.locks.ActiveLocks(egCtx, "")
		if err != nil {
			return err
		}
		ov.ActiveLocks = make([]types.Lock, 0, len(held))
		for _, l := range held {
			ov.ActiveLocks = append(ov.ActiveLocks, *l)
		}
		return nil
	})

	eg.Go(func() error {
		sorties, err := c.store.ListSorties(egCtx, store.SortieFilter{})
		if err != nil {
			return err
		}
		for _, s := range sorties {
			if s.Status != types.SortieClosed {
				ov.OpenSorties = append(ov.OpenSorties, *s)
			}
		}
		return nil
	})

	eg.Go(func() error {
		missions, err := c.store.ListMissions(egCtx, "")
		if err != nil {
			return err
		}
		ov.Missions = make([]types.Mission, 0, len(missions))
		for _, m := range missions {
			ov.Missions = append(ov.Missions, *m)
		}
		return nil
	})

	eg.Go(func() error {
		cp, err := c.store.LatestCheckpoint(egCtx, "")
		if err != nil {
			var notFound *types.NotFoundError
			if errors.As(err, &notFound) {
				return nil
			}
			return err
		}
		ov.LatestCheckpoint = cp
		return nil
	})

	eg.Go(func() error {
		count, err := c.store.Count(egCtx)
		if err != nil {
			return err
		}
		ov.EventCount = count
		seq, err := c.store.GetLatestSequence(egCtx)
		if err != nil {
			return err
		}
		ov.LatestSequence = seq
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return ov, nil
}
