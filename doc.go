/*
Package fleece implements Fleece, a compact binary encoding of JSON-like
values that can be read in place: no parsing step, no allocation per value.
Lookups into an encoded buffer touch only the bytes on the path to the value.

We implement:

1. Values, arrays and dicts read lazily from encoded data (Value, Array, Dict).

2. An Encoder that writes the format, optionally sharing repeated values, and
a JSONEncoder that writes JSON and JSON5 through the same Writer API.

3. SharedKeys, a persistent table mapping common dict keys to small ints.

4. A mutable overlay (MutableArray, MutableDict) over encoded collections that
copies nothing until edited, and re-encodes on demand.

5. Deep iteration, key paths, JSON Patch style deltas (Diff / Apply), and an
annotated hex Dump for debugging.

# Technical Details

**Cells.**
Every value starts at an even offset with a 2-byte cell. The high nibble of the
first byte is the type tag; small ints, 0-1 byte strings, and the special
values (null, true, false, undefined) fit entirely into the cell. Everything
else is written out of line and referenced by a pointer.

**Pointers.**
A pointer cell has its high bit set and stores a backward offset in 2-byte
units, big-endian. Items of a narrow collection are 2 bytes, limiting the
offset to 32 KB; collections whose children are farther away are wide, with
4-byte items. Pointers only ever point backwards, so an encoder writes
children first and the collection header after them.

**Root.**
The last 2 bytes of the data are the root: either an inline value (if that's
the whole document) or a pointer. A root that needs a wide pointer is written
as a 4-byte pointer followed by a 2-byte pointer to it.

**Collections.**
The header holds an 11-bit count; 2047 means a varint with the remainder
follows. Dicts store key/value pairs sorted by key: shared int keys first, in
ascending order, then string keys bytewise. That makes Dict.Get a binary search.

**Trust.**
Data from outside the process is validated once, when the Doc is made:
every pointer must stay inside the buffer and point backwards, every item must
be well-formed. After that, reads do no bounds checks.
*/
package fleece
