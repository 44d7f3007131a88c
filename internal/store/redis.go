package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/attendance"
	"rollcall/internal/roster"
)

// Redis wraps a redis client and persists the roster and attendance in it.
//
// Layout (all keys under the prefix):
//
//	students            hash id -> student JSON
//	students:names      hash name key -> id
//	day:<date>          day record JSON; dates indexed in zset "days"
//	logs:<date>         zset of log entry JSON scored by unix millis; dates in set "logdates"
//	history:<date>      historical record JSON; dates indexed in zset "history"
type Redis struct {
	Client *redis.Client
	prefix string
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client, prefix: "rollcall:"}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	return r.Ping(ctx) == nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis not configured")
	}
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// ---------- Roster ----------

func (r *Redis) ListStudents(ctx context.Context) ([]roster.Student, error) {
	all, err := r.allStudents(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].Name < all[j].Name
	})
	return all, nil
}

func (r *Redis) ActiveStudents(ctx context.Context) ([]roster.Student, error) {
	all, err := r.allStudents(ctx)
	if err != nil {
		return nil, err
	}
	var out []roster.Student
	for _, st := range all {
		if st.IsActive {
			out = append(out, st)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (r *Redis) allStudents(ctx context.Context) ([]roster.Student, error) {
	vals, err := r.Client.HGetAll(ctx, r.key("students")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]roster.Student, 0, len(vals))
	for _, v := range vals {
		var st roster.Student
		if err := json.Unmarshal([]byte(v), &st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (r *Redis) StudentByID(ctx context.Context, id string) (*roster.Student, error) {
	v, err := r.Client.HGet(ctx, r.key("students"), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var st roster.Student
	if err := json.Unmarshal([]byte(v), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *Redis) StudentByName(ctx context.Context, name string) (*roster.Student, error) {
	id, err := r.Client.HGet(ctx, r.key("students", "names"), roster.Key(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return r.StudentByID(ctx, id)
}

// createStudentScript claims the name key and writes the student in one step,
// so the name index never points at a missing student.
var createStudentScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

func (r *Redis) CreateStudent(ctx context.Context, st roster.Student) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	created, err := createStudentScript.Run(ctx, r.Client,
		[]string{r.key("students", "names"), r.key("students")},
		roster.Key(st.Name), st.ID, string(b),
	).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return roster.ErrConflict
	}
	return nil
}

func (r *Redis) UpdateStudent(ctx context.Context, st roster.Student) error {
	old, err := r.StudentByID(ctx, st.ID)
	if err != nil {
		return err
	}
	if old == nil {
		return roster.ErrNotFound
	}
	if oldKey, newKey := roster.Key(old.Name), roster.Key(st.Name); oldKey != newKey {
		ok, err := r.Client.HSetNX(ctx, r.key("students", "names"), newKey, st.ID).Result()
		if err != nil {
			return err
		}
		if !ok {
			return roster.ErrConflict
		}
		if err := r.Client.HDel(ctx, r.key("students", "names"), oldKey).Err(); err != nil {
			return err
		}
	}
	return r.putStudent(ctx, st)
}

func (r *Redis) putStudent(ctx context.Context, st roster.Student) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.Client.HSet(ctx, r.key("students"), st.ID, b).Err()
}

func (r *Redis) DeleteStudent(ctx context.Context, id string) (bool, error) {
	st, err := r.StudentByID(ctx, id)
	if err != nil || st == nil {
		return false, err
	}
	pipe := r.Client.TxPipeline()
	pipe.HDel(ctx, r.key("students"), id)
	pipe.HDel(ctx, r.key("students", "names"), roster.Key(st.Name))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) CountStudents(ctx context.Context) (int, error) {
	n, err := r.Client.HLen(ctx, r.key("students")).Result()
	return int(n), err
}

// ---------- Day records ----------

func (r *Redis) DayRecord(ctx context.Context, date string) (*attendance.DayRecord, error) {
	v, err := r.Client.Get(ctx, r.key("day", date)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec attendance.DayRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, err
	}
	if rec.Attendance == nil {
		rec.Attendance = map[string]attendance.Status{}
	}
	return &rec, nil
}

func (r *Redis) LatestDayRecord(ctx context.Context) (*attendance.DayRecord, error) {
	dates, err := r.Client.ZRevRangeByLex(ctx, r.key("days"), &redis.ZRangeBy{Min: "-", Max: "+", Count: 1}).Result()
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, nil
	}
	return r.DayRecord(ctx, dates[0])
}

func (r *Redis) CreateDayRecord(ctx context.Context, rec attendance.DayRecord) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return r.createIndexed(ctx, r.key("day", rec.Date), r.key("days"), rec.Date, b)
}

// createIndexed stores b under key if it is absent and adds member to the
// index in the same MULTI. Re-adding an existing member is a no-op.
func (r *Redis) createIndexed(ctx context.Context, key, index, member string, b []byte) (bool, error) {
	pipe := r.Client.TxPipeline()
	set := pipe.SetNX(ctx, key, b, 0)
	pipe.ZAdd(ctx, index, redis.Z{Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return set.Val(), nil
}

func (r *Redis) SaveDayRecord(ctx context.Context, rec attendance.DayRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := r.Client.TxPipeline()
	pipe.Set(ctx, r.key("day", rec.Date), b, 0)
	pipe.ZAdd(ctx, r.key("days"), redis.Z{Member: rec.Date})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) DeleteDayRecords(ctx context.Context, keepDate string, cutoff time.Time) (int64, error) {
	dates, err := r.Client.ZRange(ctx, r.key("days"), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, date := range dates {
		if date == keepDate {
			continue
		}
		rec, err := r.DayRecord(ctx, date)
		if err != nil {
			return n, err
		}
		if rec != nil && !rec.LastUpdated.Before(cutoff) {
			continue
		}
		pipe := r.Client.TxPipeline()
		pipe.Del(ctx, r.key("day", date))
		pipe.ZRem(ctx, r.key("days"), date)
		if _, err := pipe.Exec(ctx); err != nil {
			return n, err
		}
		if rec != nil {
			n++
		}
	}
	return n, nil
}

// ---------- Logs ----------

func (r *Redis) AppendLog(ctx context.Context, e attendance.LogEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := r.Client.TxPipeline()
	pipe.ZAdd(ctx, r.key("logs", e.Date), redis.Z{Score: float64(e.Timestamp.UnixMilli()), Member: b})
	pipe.SAdd(ctx, r.key("logdates"), e.Date)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Logs(ctx context.Context, date string, limit int) ([]attendance.LogEntry, error) {
	vals, err := r.Client.ZRevRange(ctx, r.key("logs", date), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]attendance.LogEntry, 0, len(vals))
	for _, v := range vals {
		var e attendance.LogEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Redis) DeleteLogs(ctx context.Context, keepDate string, cutoff time.Time) (int64, error) {
	dates, err := r.Client.SMembers(ctx, r.key("logdates")).Result()
	if err != nil {
		return 0, err
	}
	upper := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	var n int64
	for _, date := range dates {
		if date == keepDate {
			continue
		}
		removed, err := r.Client.ZRemRangeByScore(ctx, r.key("logs", date), "-inf", upper).Result()
		if err != nil {
			return n, err
		}
		n += removed
		left, err := r.Client.ZCard(ctx, r.key("logs", date)).Result()
		if err != nil {
			return n, err
		}
		if left == 0 {
			if err := r.Client.SRem(ctx, r.key("logdates"), date).Err(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// ---------- History ----------

func (r *Redis) HistoricalRecord(ctx context.Context, date string) (*attendance.HistoricalRecord, error) {
	v, err := r.Client.Get(ctx, r.key("history", date)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec attendance.HistoricalRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Redis) CreateHistoricalRecord(ctx context.Context, rec attendance.HistoricalRecord) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return r.createIndexed(ctx, r.key("history", rec.Date), r.key("history"), rec.Date, b)
}

func (r *Redis) ListHistory(ctx context.Context, offset, limit int) ([]attendance.HistoricalRecord, int, error) {
	if offset < 0 {
		return nil, 0, fmt.Errorf("list history: negative offset %d", offset)
	}
	total, err := r.Client.ZCard(ctx, r.key("history")).Result()
	if err != nil {
		return nil, 0, err
	}
	dates, err := r.Client.ZRevRangeByLex(ctx, r.key("history"), &redis.ZRangeBy{
		Min: "-", Max: "+", Offset: int64(offset), Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, 0, err
	}
	out := make([]attendance.HistoricalRecord, 0, len(dates))
	for _, date := range dates {
		rec, err := r.HistoricalRecord(ctx, date)
		if err != nil {
			return nil, 0, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, int(total), nil
}

func (r *Redis) ClearAttendance(ctx context.Context) error {
	var keys []string
	days, err := r.Client.ZRange(ctx, r.key("days"), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, d := range days {
		keys = append(keys, r.key("day", d))
	}
	logDates, err := r.Client.SMembers(ctx, r.key("logdates")).Result()
	if err != nil {
		return err
	}
	for _, d := range logDates {
		keys = append(keys, r.key("logs", d))
	}
	history, err := r.Client.ZRange(ctx, r.key("history"), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, d := range history {
		keys = append(keys, r.key("history", d))
	}
	keys = append(keys, r.key("days"), r.key("logdates"), r.key("history"))
	return r.Client.Del(ctx, keys...).Err()
}
