/*
Package megadex keeps records in an embedded transactional key-value store
(Bolt by default, or Pebble) and lets you find them by secondary field
values.

We implement:

1. Environments (Env), one opened engine per directory, optionally shared
through a Registry.

2. Relations, named sub-stores of an environment. Single-valued relations
map a key to one value, multi-valued relations map a key to a set of values.

3. Stores (Store[T]), holding records of type T in a primary relation named
“_main_” plus one multi-valued relation per indexed field, mapping field
values to record ids.

4. Tables (Table[T, K]), typed stores configured by megadex struct tags.

A Store writes the record and all of its index entries in one write
transaction, and reads records and indices from one read snapshot, so
readers never see a record without its index entries or vice versa.

# Technical Details

**Buckets.**
Every relation is an engine bucket. Pebble has no buckets, so they are
emulated with key prefixes. The “__megadex__” bucket maps relation names
to their kind (1 = single, 2 = multi).

**Multi-valued relations.**
A (key, value) pair is stored as the bucket key uvarint(len(key)), key, value
with a one-byte ref tag as the bucket value. The length prefix makes a
prefix scan return exactly the values of one key, in byte order. Identical
pairs collapse.

## Binary encoding

**Keys** are canonical byte strings, see EncodeKey.

**Values** of single-valued relations are envelopes:
1. Tag byte ('b' for blob).
2. Flags (uvarint): compression method.
3. Uncompressed size (uvarint).
4. Payload: the encoded record, possibly compressed with zstd or LZ4.
5. xxhash64 of the payload (8 bytes, big-endian).

**Records** are encoded with MsgPack by default; see Codec.
*/
package megadex
