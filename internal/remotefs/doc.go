// Package remotefs provides remote directory listing and chunked file
// transfer over the SFTP subsystem of an established session.
//
// Every operation opens one dedicated SFTP channel and closes it on
// completion. Transfers stream in bounded chunks with per-chunk progress
// callbacks and chunk-boundary cancellation; recursive listings return
// partial results with per-subdirectory error markers instead of aborting
// on the first unreadable directory.
package remotefs
