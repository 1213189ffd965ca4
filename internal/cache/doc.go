// Package cache implements the durable CacheStore behind the offline cache
// controller: a set of named cache generations, each mapping a request key to
// a stored response. Two backends share one contract: the file backend lays
// generations out as StoragePath/caches/<hex(name)>/<sha1(key)>.{body,meta}
// with temp file + rename writes, and the leveldb backend keeps everything in
// a single database so grouped writes commit through one batch. Generations
// survive process restarts; nothing here keeps state that is not on disk.
package cache
