// Package credstore holds the credential triple (access token, refresh token,
// session id) that authenticated requests are signed with.
//
// Two layers are provided:
//   - Store: persistent backends (memory, file, env, keyring, redis) that read
//     and write the whole triple at once.
//   - Cell: the process-wide authoritative copy. Reads never touch the backend;
//     writes replace the full triple under a lock and are then persisted
//     write-through, latest value wins.
//
// Refresh needs writable storage. The env backend is read-only and can only be
// used with credentials that are never rotated.
package credstore
