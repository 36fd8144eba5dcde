package nvr

import (
	"context"
	"time"
)

// ResolveTimestamps turns the discontiguous clips recorded in [start, stop]
// into a dense per-second sequence in the session's local timezone. The
// result is duplicate-free, non-decreasing, and fully contained in the
// requested window.
func (s *Session) ResolveTimestamps(ctx context.Context, cameraID int, start, stop time.Time) ([]time.Time, error) {
	searchID, clips, err := s.CreateSearch(ctx, cameraID, start, stop)
	if err != nil {
		return nil, err
	}

	timestamps := ExpandClips(clips, start, stop)
	s.client.logger.Info("timestamps resolved",
		"search_id", searchID,
		"camera_id", cameraID,
		"clips", len(clips),
		"timestamps", len(timestamps),
	)
	return timestamps, nil
}

// ExpandClips generates the inclusive per-second range of every clip in clip
// order, removes duplicates keeping the first occurrence (clips may overlap
// but are not re-sorted), and drops instants outside [start, stop].
func ExpandClips(clips []Clip, start, stop time.Time) []time.Time {
	seen := make(map[int64]struct{})
	var out []time.Time

	for _, clip := range clips {
		for t := clip.Start; !t.After(clip.End); t = t.Add(time.Second) {
			if t.Before(start) || t.After(stop) {
				continue
			}
			key := t.Unix()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
