package local

import "github.com/storekit-io/storekit"

func init() {
	storekit.RegisterBackend("local", func(storageName string, cfg storekit.Config) (storekit.Backend, error) {
		root := cfg.Get("root")
		if root == "" {
			root = storageName
		}
		return New(root, storekit.Algorithm(cfg.Get("checksum")))
	})
}
