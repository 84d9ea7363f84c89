// Package knx connects the bridge to a KNX installation through knxd.
//
// The layers, bottom up:
//
//   - GroupAddress, Telegram and the knxd framing helpers
//   - DPT codecs for the encodings the device types use (1.001, 5.001, 9.001)
//   - KNXDClient, a reconnecting group socket that delivers telegrams in
//     bus order
//   - Session and Binding, which turn telegrams into per-address value
//     changes and writes
//
// A Binding caches the last value seen on its address. Observers receive a
// Change whose Old field is nil for the first value after bind:
//
//	b, err := session.Bind("1/1/2", knx.TagSwitch)
//	if err != nil {
//	    return err
//	}
//	sub := b.Observe(func(c knx.Change) {
//	    if c.Initial() {
//	        return
//	    }
//	    publish(c.New)
//	})
//	defer sub.Cancel()
package knx
