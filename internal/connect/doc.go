// Package connect bridges the asynchronous token fetch into the client's
// synchronous tick loop.
//
// A Machine is owned by the tick goroutine. User actions call
// OnConnectClicked / OnDisconnectClicked, and the loop calls Tick once per
// iteration. Tick never blocks: the fetch runs on its own goroutine and hands
// its result back through a single-slot Task handle that the Tracker checks
// with a non-blocking receive. The session layer reports back the same way,
// through a buffered event channel drained on each tick.
//
// Every connect attempt gets a new epoch. A disconnect abandons the pending
// fetch and any session event carrying an older epoch is dropped, so a token
// fetched for an abandoned attempt never reaches a new session.
package connect
