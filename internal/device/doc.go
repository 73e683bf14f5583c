// Package device defines devices, their endpoints, and the value
// transforms between wire payloads and engineering units.
//
// A device holds exactly one latest reading; endpoints bind it to
// addresses on connectors and carry the linear scaling (analog) or
// token mapping (digital) used in both directions. State writes go
// through Repository.UpdateState, which applies the whole reading in
// a single statement.
package device
