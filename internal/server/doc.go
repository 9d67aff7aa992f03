// Package server implements the chatmk session core and its HTTP surface.
//
// A WebSocket connection on /ws/:username becomes a Session once the
// identity exists in the store. Sessions are registered in the Hub, one per
// identity, and every outbound event goes through the Router, which encodes
// it once and fans it out to snapshot recipients without holding the Hub
// lock. Each session owns a LeakyBucket that throttles chat messages.
package server
