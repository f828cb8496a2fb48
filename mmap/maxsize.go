package mmap

import "strconv"

// MaxSize is the largest file MapFile accepts: 2 GB on 32-bit platforms,
// 256 TB on 64-bit ones.
const MaxSize = 1<<31 - 1 + ((1<<48 - 1) - (1<<31 - 1))*(strconv.IntSize/64)
