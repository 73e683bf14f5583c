// Package room manages rooms, the user-owned groupings that devices
// live in and that websocket subscriptions attach to.
package room
