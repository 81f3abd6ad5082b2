package memory

import "github.com/storekit-io/storekit"

func init() {
	storekit.RegisterBackend("memory", func(storageName string, cfg storekit.Config) (storekit.Backend, error) {
		return New(storekit.Algorithm(cfg.Get("checksum"))), nil
	})
}
