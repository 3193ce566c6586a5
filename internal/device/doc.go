// Package device defines the characteristic access layer the desk engine talks to.
//
// It provides:
//   - the Connection contract (read, write, subscribe, unsubscribe by characteristic UUID)
//   - the Link contract used by the link supervisor (connect, disconnect, drop detection)
//   - Subscription, a single-consumer notification stream backed by a ring channel
//   - the transport error taxonomy shared by every backend
//
// The go-ble backed implementation lives in the goble subpackage; tests use the
// simulated desk from internal/testutils.
package device
