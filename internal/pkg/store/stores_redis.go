//go:build redisdb || !core
// +build redisdb !core

package store

import (
	"github.com/lf-edge/oort/internal/pkg/store/redis"
)

func init() {
	storeBuilders["redis"] = redis.BuildStores
}
