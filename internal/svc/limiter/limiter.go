package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/seventv/common/redis"
	"github.com/seventv/common/utils"
)

// Instance is the redis-backed request limiter used by the publish
// endpoint. The window state lives in redis so every relay process
// shares one budget per identity.
type Instance interface {
	ScriptOk(ctx context.Context) bool
	LoadScript(ctx context.Context) error
	Allow(ctx context.Context, bucket string, identifier string, limit int64, window time.Duration) (Result, error)
}

type Result struct {
	Count     int64
	Remaining int64
	TTL       int64
	Allowed   bool
}

type limiterInst struct {
	redis  redis.Instance
	script string

	mx *sync.Mutex
}

func New(ctx context.Context, rdis redis.Instance) (Instance, error) {
	l := limiterInst{
		redis: rdis,
		mx:    &sync.Mutex{},
	}

	if err := l.LoadScript(ctx); err != nil {
		return &l, err
	}

	return &l, nil
}

func (inst *limiterInst) ScriptOk(ctx context.Context) bool {
	ok, _ := inst.redis.RawClient().ScriptExists(ctx, inst.script).Result()
	if len(ok) == 0 || !ok[0] {
		return false
	}

	return true
}

func (inst *limiterInst) LoadScript(ctx context.Context) error {
	inst.mx.Lock()
	defer inst.mx.Unlock()

	var err error

	inst.script, err = inst.redis.RawClient().ScriptLoad(ctx, `
		local key = ARGV[1]
		local expire = tonumber(ARGV[2])
		local limit = tonumber(ARGV[3])
		local by = tonumber(ARGV[4])

		local exists = redis.call("EXISTS", key)

		local count = redis.call("INCRBY", key, by)

		if exists == 0 then
			redis.call("EXPIRE", key, expire)
			return {count, expire}
		end

		local ttl = redis.call("TTL", key)

		if count > limit then
			return {redis.call("DECRBY", key, by), ttl, 1}
		end

		return {count, ttl, 0}

`).Result()
	if err != nil {
		return err
	}

	return nil
}

func (inst *limiterInst) Allow(ctx context.Context, bucket string, identifier string, limit int64, window time.Duration) (Result, error) {
	if ok := inst.ScriptOk(ctx); !ok {
		if err := inst.LoadScript(ctx); err != nil {
			return Result{}, err
		}
	}

	h := sha256.New()
	h.Write(utils.S2B(identifier))
	h.Write(utils.S2B(bucket))

	k := inst.redis.ComposeKey("relay", "rl", bucket, hex.EncodeToString(h.Sum(nil)))

	res, err := inst.redis.RawClient().EvalSha(
		ctx,
		inst.script,
		[]string{},
		k.String(),
		int64(window.Seconds()),
		limit,
		1,
	).Result()
	if err != nil {
		return Result{}, err
	}

	result := Result{Allowed: true}

	if v, ok := res.([]interface{}); ok {
		if len(v) > 0 {
			result.Count, _ = v[0].(int64)
		}

		if len(v) > 1 {
			result.TTL, _ = v[1].(int64)
		}

		if len(v) > 2 {
			if rejected, _ := v[2].(int64); rejected == 1 {
				result.Allowed = false
			}
		}
	}

	result.Remaining = limit - result.Count
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	return result, nil
}
