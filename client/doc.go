/*
Package client implements the preloader client: it ships a command line to the
resident daemon over loopback TCP, relays the remote command's standard
streams back to the local terminal, and reports the remote exit status.

The daemon listens on four consecutive TCP ports starting at a base port:

 1. base+0 (control): the client sends the framed run request (argument count,
    payload length, then the NUL-delimited working directory and arguments,
    all integers 32-bit big-endian). After the command finishes, the daemon
    sends the 4-byte big-endian exit code on this connection.
 2. base+1 (stdout): raw bytes of the remote command's stdout until close.
 3. base+2 (stderr): raw bytes of the remote command's stderr until close.
 4. base+3 (stdin): the client streams local stdin here until EOF.

The client connects to the control port first and transmits the request, then
dials the three relay ports in order. A single poll(2) loop then forwards
bytes until every stream has ended; streams close independently, so a command
that shuts stdout early still has stderr and stdin serviced. Finally the exit
code is read from the control connection. If the daemon closes the control
connection without sending one, ErrStatusUnavailable is returned along with
the sentinel code 42 that the wire protocol historically reports in that case.
*/
package client
