package rest

type Key string

const (
	ActorKey     Key = "CURRENT_ACTOR"
	SessionIDKey Key = "SESSION_ID"
)
