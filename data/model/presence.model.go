package model

import "time"

// PresenceRecordModel is the per-user record kept in the shared presence
// hash. One record per user, overwritten by the most recent connect.
// LastActiveAt is unix milliseconds; consumers treat its age as a liveness
// signal rather than a guarantee, since a crashed process leaves records
// behind.
type PresenceRecordModel struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	LastActiveAt int64 `json:"lastActiveAt"`
}

// Age returns how long ago the record was last refreshed.
func (r PresenceRecordModel) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.LastActiveAt))
}

// ActiveClientModel is one entry of the presence snapshot returned by the
// clients endpoint.
type ActiveClientModel struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	IsActive   bool   `json:"isActive"`
	LastActive int64  `json:"lastActive"`
}

// ToActiveClient converts a presence record into its snapshot form.
func (r PresenceRecordModel) ToActiveClient(timeout time.Duration, now time.Time) ActiveClientModel {
	return ActiveClientModel{
		ID:         r.SessionID,
		UserID:     r.UserID,
		UserName:   r.DisplayName,
		IsActive:   r.Age(now) < timeout,
		LastActive: r.LastActiveAt,
	}
}
