/*
Package types defines the core data structures shared by every component of
the sandbox backend.

This package contains the domain model: sessions, container records, file
tree nodes, and the event envelopes carried by the notification bus and the
fs-event intake. It has no dependencies on other packages in this module, so
any component can import it without cycles.

The main groups are:

  - Session and ContainerRecord: the ephemeral terminal authorization token
    and the durable user→container assignment behind it
  - FSNode and TreeNode: one persisted row of the virtual file tree and its
    resolved recursive form
  - FileEvent and ShellEvent: the file_update envelope pushed to update
    subscribers and the raw intercepted command posted by the shell hook
  - The workspace and label constants that tie containers, paths, and the
    store together

All types serialize to the JSON shapes the HTTP/WS surface exposes.
*/
package types
