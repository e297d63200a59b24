// package history records every image exchanged by the server in a SQLite table.
//
// A [Job] row is created when an accepted session has received its image and is updated once the
// transform either produced a result or failed. The table schema lives in the shared migrations.
package history
