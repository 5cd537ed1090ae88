package orchestrator

import (
	"crypto/md5"
	"encoding/hex"
	"sort"

	"github.com/manifold-chat/core/internal/model"
)

// refID returns the stable identifier for a search_knowledge_base hit:
// its chunk id when present, else an MD5 of its content.
func refID(chunkID, content string) string {
	if chunkID != "" {
		return chunkID
	}
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// dedupeAndRenumber implements the global citation dedup step of §4.8: merge
// every accumulated citation this turn, keep the highest-scoring version per
// ref id, sort descending by score, and renumber ref_marker so that
// already-emitted ids keep their marker and only new ids advance the
// counter. It returns the full deduped+renumbered set and the subset newly
// introduced this call, to emit on the side channel.
func (s *scratch) dedupeAndRenumber() (all, fresh []model.RichCitation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := make(map[string]model.RichCitation, len(s.accumulated))
	for _, c := range s.accumulated {
		id := c.RefID
		if id == "" {
			id = refID(c.ChunkID, c.Content)
			c.RefID = id
		}
		if cur, ok := best[id]; !ok || c.Score > cur.Score {
			best[id] = c
		}
	}

	merged := make([]model.RichCitation, 0, len(best))
	for _, c := range best {
		merged = append(merged, c)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })

	if s.markers == nil {
		s.markers = make(map[string]int)
	}
	for i := range merged {
		id := merged[i].RefID
		if marker, seen := s.markers[id]; seen {
			merged[i].RefMarker = marker
			continue
		}
		s.lastRefMarker++
		merged[i].RefMarker = s.lastRefMarker
		s.markers[id] = s.lastRefMarker
		fresh = append(fresh, merged[i])
	}
	return merged, fresh
}
