package main

// Symbol is an interned identifier or label name. The original design keeps a
// process-wide atom table; here Go's string representation gives us value
// equality directly and symbols simply don't outlive the compilation session.
type Symbol = string
