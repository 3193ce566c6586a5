// Package desk implements the Linak desk control engine: the height and speed unit
// model, the DPG configuration protocol, the desk session and the closed-loop
// movement state machine.
//
// A Desk talks to the controller only through device.Connection, so the same code
// drives a real go-ble link and the simulated desk used in tests.
package desk
