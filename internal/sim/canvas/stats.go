package canvas

import (
	"sort"

	"pixelpandemonium.ai/internal/protocol"
)

// Leaderboard returns the top n players by pixels placed, ties broken by
// address.
func (m *Model) Leaderboard(n int) []protocol.LeaderboardEntry {
	out := make([]protocol.LeaderboardEntry, 0, len(m.stats))
	for p, st := range m.stats {
		out = append(out, protocol.LeaderboardEntry{Player: p, PixelsPlaced: st.PixelsPlaced})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PixelsPlaced != out[j].PixelsPlaced {
			return out[i].PixelsPlaced > out[j].PixelsPlaced
		}
		return out[i].Player < out[j].Player
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (m *Model) StatsPayload() protocol.StatsUpdated {
	ps := make(map[string]protocol.PlayerStat, len(m.stats))
	for p, st := range m.stats {
		ps[p] = protocol.PlayerStat{PixelsPlaced: st.PixelsPlaced}
	}
	return protocol.StatsUpdated{
		PlayerStats: ps,
		TotalPixels: m.totalPixels,
		Leaderboard: m.Leaderboard(m.cfg.LeaderboardSize),
	}
}

func (m *Model) publishStats() {
	m.pub.Publish(protocol.ScopeCanvas, protocol.BroadcastStatsUpdated, m.StatsPayload())
}
