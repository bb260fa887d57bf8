package readstate

import "github.com/riverline/casetrack/internal/api"

// Counts is a per-case badge pair. Remarks and chats come from independent
// entity streams and are rendered as separate badges; they are never summed
// into one opaque number.
type Counts struct {
	Remarks int `json:"remarks"`
	Chats   int `json:"chats"`
}

// Index is the derived unread mapping. Ephemeral: rebuilt from scratch on
// every relevant change, never persisted, never incremented in place.
type Index struct {
	ByCase    map[string]Counts `json:"byCase"`
	ByService map[string]int    `json:"byService"`
}

// Compute derives the unread index for userID as a pure function of the
// current entity lists. A remark whose service no longer exists on its case
// is a stale reference and contributes nothing. chatUnread carries the
// per-case unread chat-message count, tracked separately from remarks.
func Compute(store *Store, cases []api.Case, remarks []api.Remark, chatUnread map[string]int, userID string) Index {
	idx := Index{
		ByCase:    make(map[string]Counts),
		ByService: make(map[string]int),
	}

	// serviceID → owning caseID, so a remark only counts while its service
	// still exists on its own case.
	liveServices := make(map[string]string)
	for _, c := range cases {
		idx.ByCase[c.ID] = Counts{Chats: chatUnread[c.ID]}
		for _, svc := range c.Services {
			liveServices[svc.ID] = c.ID
		}
	}

	for _, r := range remarks {
		if liveServices[r.ServiceID] != r.CaseID || r.CaseID == "" {
			continue
		}
		if !unreadRemark(store, r, userID) {
			continue
		}
		idx.ByService[r.ServiceID]++
		counts := idx.ByCase[r.CaseID]
		counts.Remarks++
		idx.ByCase[r.CaseID] = counts
	}

	return idx
}

func unreadRemark(store *Store, r api.Remark, userID string) bool {
	if r.ReadByContains(userID) {
		return false
	}
	return store.Unread(r.ID, r.AuthorID, userID)
}

// CaseCounts returns the badge pair for one case.
func (i Index) CaseCounts(caseID string) Counts {
	return i.ByCase[caseID]
}

// ServiceCount returns the unread remark count for one service.
func (i Index) ServiceCount(serviceID string) int {
	return i.ByService[serviceID]
}
