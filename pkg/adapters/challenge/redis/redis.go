// Package redis guarda los desafíos de firma y los contadores de intentos
// fallidos en Redis, compartidos entre réplicas del servidor.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"

	"github.com/redis/go-redis/v9"
)

// ExpiredGrace es cuánto se recuerda un desafío vencido para responder
// expired_code en lugar de challenge_missing. El hash del código se borra
// al vencer; solo queda su id y su vencimiento.
const ExpiredGrace = 30 * 24 * time.Hour

// consumeScript borra el desafío y su marca de vencimiento solo si sigue
// siendo el indicado.
// KEYS[1] = clave del desafío, KEYS[2] = marca de vencimiento
// ARGV[1] = id del desafío
var consumeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "id") == ARGV[1] then
    redis.call("DEL", KEYS[1], KEYS[2])
    return 1
end
return 0
`)

// failureScript cuenta un fallo y bloquea al llegar al máximo.
// KEYS[1] = contador de intentos, KEYS[2] = clave de bloqueo
// ARGV[1] = máximo de intentos, ARGV[2] = ventana (ms)
// ARGV[3] = duración del bloqueo (ms), ARGV[4] = ahora (unix ms)
var failureScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local lockout_ms = tonumber(ARGV[3])
local now_ms = tonumber(ARGV[4])

local n = redis.call("INCR", KEYS[1])
if n == 1 then
    redis.call("PEXPIRE", KEYS[1], window_ms)
end
if n >= max then
    local until_ms = now_ms + lockout_ms
    redis.call("SET", KEYS[2], until_ms, "PX", lockout_ms)
    redis.call("DEL", KEYS[1])
    return {0, until_ms}
end
return {max - n, 0}
`)

// Store implementa ports.ChallengeStore y ports.AttemptLimiter.
type Store struct {
	client *redis.Client
	policy domain.LockoutPolicy
	now    func() time.Time
}

// NewStore crea un store sobre un cliente existente.
func NewStore(client *redis.Client, policy domain.LockoutPolicy, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{client: client, policy: policy, now: now}
}

// NewClient crea el cliente de Redis.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func challengeKey(procedureID string) string { return "signature:challenge:" + procedureID }
func expiredKey(procedureID string) string   { return "signature:expired:" + procedureID }
func attemptsKey(procedureID string) string  { return "signature:attempts:" + procedureID }
func lockKey(procedureID string) string      { return "signature:lock:" + procedureID }

// Save implementa ports.ChallengeStore.
func (s *Store) Save(ctx context.Context, ch *domain.VerificationChallenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}
	key, marker := challengeKey(ch.ProcedureID), expiredKey(ch.ProcedureID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key, marker)
		pipe.HSet(ctx, key, "id", ch.ID, "data", data)
		pipe.PExpireAt(ctx, key, ch.ExpiresAt)
		pipe.HSet(ctx, marker, "id", ch.ID, "expires_at", ch.ExpiresAt.UnixMilli())
		pipe.PExpireAt(ctx, marker, ch.ExpiresAt.Add(ExpiredGrace))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save challenge in redis: %w", err)
	}
	return nil
}

// Active implementa ports.ChallengeStore. Un desafío vencido se devuelve
// sin hash, solo con su id y vencimiento.
func (s *Store) Active(ctx context.Context, procedureID string) (*domain.VerificationChallenge, error) {
	data, err := s.client.HGet(ctx, challengeKey(procedureID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return s.expired(ctx, procedureID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge from redis: %w", err)
	}
	var ch domain.VerificationChallenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}
	return &ch, nil
}

func (s *Store) expired(ctx context.Context, procedureID string) (*domain.VerificationChallenge, error) {
	vals, err := s.client.HMGet(ctx, expiredKey(procedureID), "id", "expires_at").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get expired challenge from redis: %w", err)
	}
	id, _ := vals[0].(string)
	raw, _ := vals[1].(string)
	if id == "" || raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expired challenge in redis: %w", err)
	}
	return &domain.VerificationChallenge{ID: id, ProcedureID: procedureID, ExpiresAt: time.UnixMilli(ms)}, nil
}

// Consume implementa ports.ChallengeStore.
func (s *Store) Consume(ctx context.Context, procedureID, challengeID string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{challengeKey(procedureID), expiredKey(procedureID)}, challengeID).Int()
	if err != nil {
		return false, fmt.Errorf("redis consume error: %w", err)
	}
	return n == 1, nil
}

// LockedUntil implementa ports.AttemptLimiter.
func (s *Store) LockedUntil(ctx context.Context, procedureID string) (time.Time, error) {
	ms, err := s.client.Get(ctx, lockKey(procedureID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get lock from redis: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// RegisterFailure implementa ports.AttemptLimiter.
func (s *Store) RegisterFailure(ctx context.Context, procedureID string) (int, time.Time, error) {
	res, err := failureScript.Run(ctx, s.client,
		[]string{attemptsKey(procedureID), lockKey(procedureID)},
		s.policy.MaxAttempts, s.policy.Window.Milliseconds(), s.policy.Lockout.Milliseconds(), s.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis attempts error: %w", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("invalid response from attempts script")
	}
	if res[1] > 0 {
		return 0, time.UnixMilli(res[1]), nil
	}
	return int(res[0]), time.Time{}, nil
}

// Reset implementa ports.AttemptLimiter.
func (s *Store) Reset(ctx context.Context, procedureID string) error {
	if err := s.client.Del(ctx, attemptsKey(procedureID), lockKey(procedureID)).Err(); err != nil {
		return fmt.Errorf("failed to reset attempts in redis: %w", err)
	}
	return nil
}

var (
	_ ports.ChallengeStore = (*Store)(nil)
	_ ports.AttemptLimiter = (*Store)(nil)
)
