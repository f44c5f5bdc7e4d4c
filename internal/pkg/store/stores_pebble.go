//go:build pebble || !core
// +build pebble !core

package store

import (
	"github.com/lf-edge/oort/internal/pkg/store/pebble"
)

func init() {
	// Register pebble only when the pebble tag is enabled
	storeBuilders["pebble"] = pebble.BuildStores
}
