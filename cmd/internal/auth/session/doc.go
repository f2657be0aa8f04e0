// Package session implements registration, login, logout and refresh for
// postline, and is the only writer of a user's refresh token list.
//
// Access tokens are stateless JWTs. Refresh tokens are JWTs signed with a
// second secret and are valid only while their fingerprint is in the owner's
// list. Refresh rotates the presented token. Presenting a token that
// verifies but is no longer listed counts as reuse and revokes every
// session of that user.
//
// Every list mutation is a read-modify-write committed with a
// compare-and-swap on the record version, serialized per user in process.
package session
