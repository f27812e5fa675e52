package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const viewKeyPrefix = "product:views:"

// ViewCounter は商品の閲覧数を Redis 上でカウントします。
// 商品行への反映はジョブがまとめて行うため、詳細表示のたびにUPDATEを発行しません。
type ViewCounter struct {
	rdb *redis.Client
}

// NewViewCounter は ViewCounter を作成します。
func NewViewCounter(rdb *redis.Client) *ViewCounter {
	return &ViewCounter{rdb: rdb}
}

// Bump は商品の閲覧数カウンタを1増やします。
func (v *ViewCounter) Bump(ctx context.Context, productID int64) error {
	return v.rdb.Incr(ctx, viewKey(productID)).Err()
}

// Drain は全カウンタの値を取り出してリセットし、商品IDごとの増分を返します。
func (v *ViewCounter) Drain(ctx context.Context) (map[int64]int64, error) {
	counts := make(map[int64]int64)

	var cursor uint64
	for {
		keys, next, err := v.rdb.Scan(ctx, cursor, viewKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			value, err := v.rdb.GetDel(ctx, key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				return nil, err
			}
			id, err := strconv.ParseInt(strings.TrimPrefix(key, viewKeyPrefix), 10, 64)
			if err != nil {
				continue
			}
			delta, err := strconv.ParseInt(value, 10, 64)
			if err != nil || delta == 0 {
				continue
			}
			counts[id] += delta
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return counts, nil
}

func viewKey(productID int64) string {
	return fmt.Sprintf("%s%d", viewKeyPrefix, productID)
}
