package api

import "time"

// Case is the top-level compliance record. Owned by the remote API; the core
// reads assigned users for fan-out and service linkage for aggregation.
type Case struct {
	ID            string    `json:"id"`
	Title         string    `json:"title,omitempty"`
	AssignedUsers []UserRef `json:"assignedUsers"`
	Services      []Service `json:"services"`
}

// Service is a unit of work within a case.
type Service struct {
	ID     string   `json:"id"`
	CaseID string   `json:"caseId"`
	Tags   []string `json:"tags,omitempty"`
	Status string   `json:"status,omitempty"`
}

type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// Remark is an asynchronous comment attached to a specific service. Created
// over request/response, never over the persistent channel.
type Remark struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"caseId"`
	ServiceID  string    `json:"serviceId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
	ReadBy     []string  `json:"readBy"`
}

// ReadByContains reports whether userID already appears in the remark's read set.
func (r Remark) ReadByContains(userID string) bool {
	for _, id := range r.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
