// Package feed fans out fleet frames to observers.
//
// # Overview
//
// Every safety evaluation cycle produces one Frame: the robots' positions and
// trails, which robots are held, which pairs are inside the caution band, and
// the events emitted that cycle. Observers such as the /ws/fleet websocket and
// the HTTP API read frames from a Broadcaster:
//
//	b := feed.NewBroadcaster(logger)
//	frames, subID := b.Subscribe(ctx)
//	b.Publish(frame)
//
// Publish never blocks. A subscriber whose buffer is full misses frames; the
// next one supersedes them anyway.
package feed
