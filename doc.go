// Package meross is a cloud-connected client for Meross smart home
// fleets. It authenticates against the vendor HTTP API, discovers the
// account's devices, composes a capability model per device from its
// advertised abilities, and executes commands over the vendor MQTT
// broker with an optional LAN HTTP fast path.
//
// The Manager is the entry point:
//
//	mgr, err := meross.New(meross.Config{
//		Email:    os.Getenv("MEROSS_EMAIL"),
//		Password: os.Getenv("MEROSS_PASSWORD"),
//	})
//	if err != nil { ... }
//	if err := mgr.Init(ctx); err != nil { ... }
//	defer mgr.Close()
//
//	if _, err := mgr.Discover(ctx); err != nil { ... }
//	for _, dev := range mgr.Devices() {
//		if tx, ok := dev.ToggleX(); ok {
//			_ = tx.TurnOn(ctx, 0)
//		}
//	}
//
// Commands are rate limited per device and globally, correlated with
// their ACKs by message id, and verified against the account key
// before any payload is trusted.
package meross
