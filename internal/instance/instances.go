package instance

import (
	"github.com/seventv/common/mongo"
	"github.com/seventv/common/redis"
	"github.com/seventv/relay/internal/svc/aliases"
	"github.com/seventv/relay/internal/svc/auth"
	"github.com/seventv/relay/internal/svc/channelbus"
	"github.com/seventv/relay/internal/svc/limiter"
	"github.com/seventv/relay/internal/svc/presences"
	"github.com/seventv/relay/internal/svc/prometheus"
	"github.com/seventv/relay/internal/svc/registry"
)

type Instances struct {
	Mongo mongo.Instance
	Redis redis.Instance

	Auth       auth.Authorizer
	Aliases    aliases.Instance
	Bus        channelbus.Instance
	Limiter    limiter.Instance
	Presences  presences.Instance
	Prometheus prometheus.Instance
	Registry   registry.Instance
}
