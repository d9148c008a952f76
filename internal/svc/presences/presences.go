package presences

import (
	"context"
	"sort"
	"time"

	goredis "github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	gocache "github.com/patrickmn/go-cache"
	"github.com/seventv/common/redis"
	"github.com/seventv/common/utils"
	"github.com/seventv/relay/data/model"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const snapshotCacheKey = "presence_snapshot"

// Instance is the shared presence store: one JSON record per user in a
// redis hash visible to every relay process. It is eventually consistent
// with any single process's connection registry.
type Instance interface {
	Upsert(ctx context.Context, rec model.PresenceRecordModel) error
	Remove(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (model.PresenceRecordModel, bool, error)
	GetAll(ctx context.Context) (map[string]model.PresenceRecordModel, error)

	// Snapshot returns the active-client view of GetAll, served from a
	// short-lived cache so per-session clients_update ticks and the
	// clients endpoint don't each hit redis.
	Snapshot(ctx context.Context) ([]model.ActiveClientModel, error)
}

type Options struct {
	Redis redis.Instance

	SnapshotTTL   time.Duration
	ClientTimeout time.Duration
}

func New(opt Options) Instance {
	return &inst{
		redis:         opt.Redis,
		key:           opt.Redis.ComposeKey("presence", "active_users"),
		clientTimeout: opt.ClientTimeout,
		cache:         gocache.New(opt.SnapshotTTL, opt.SnapshotTTL*2),
	}
}

type inst struct {
	redis         redis.Instance
	key           redis.Key
	clientTimeout time.Duration
	cache         *gocache.Cache
}

func (p *inst) Upsert(ctx context.Context, rec model.PresenceRecordModel) error {
	j, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return p.redis.RawClient().HSet(ctx, p.key.String(), rec.UserID, utils.B2S(j)).Err()
}

func (p *inst) Remove(ctx context.Context, userID string) error {
	return p.redis.RawClient().HDel(ctx, p.key.String(), userID).Err()
}

func (p *inst) Get(ctx context.Context, userID string) (model.PresenceRecordModel, bool, error) {
	rec := model.PresenceRecordModel{}

	s, err := p.redis.RawClient().HGet(ctx, p.key.String(), userID).Result()
	if err != nil {
		if err == goredis.Nil {
			return rec, false, nil
		}

		return rec, false, err
	}

	if err := json.Unmarshal(utils.S2B(s), &rec); err != nil {
		return rec, false, err
	}

	return rec, true, nil
}

func (p *inst) GetAll(ctx context.Context) (map[string]model.PresenceRecordModel, error) {
	raw, err := p.redis.RawClient().HGetAll(ctx, p.key.String()).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[string]model.PresenceRecordModel, len(raw))

	for userID, s := range raw {
		rec := model.PresenceRecordModel{}
		if err := json.Unmarshal(utils.S2B(s), &rec); err != nil {
			// One corrupt record must not hide everyone else
			zap.S().Warnw("presence, bad record",
				"user_id", userID,
				"error", err,
			)

			continue
		}

		result[userID] = rec
	}

	return result, nil
}

func (p *inst) Snapshot(ctx context.Context) ([]model.ActiveClientModel, error) {
	if v, ok := p.cache.Get(snapshotCacheKey); ok {
		return v.([]model.ActiveClientModel), nil
	}

	records, err := p.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := RecordsToSnapshot(records, p.clientTimeout, time.Now())

	p.cache.SetDefault(snapshotCacheKey, snapshot)

	return snapshot, nil
}

// RecordsToSnapshot converts a presence record map into a stable,
// user-id ordered active-client list.
func RecordsToSnapshot(records map[string]model.PresenceRecordModel, timeout time.Duration, now time.Time) []model.ActiveClientModel {
	snapshot := make([]model.ActiveClientModel, 0, len(records))

	for _, rec := range records {
		snapshot = append(snapshot, rec.ToActiveClient(timeout, now))
	}

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].UserID < snapshot[j].UserID
	})

	return snapshot
}
