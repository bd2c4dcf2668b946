package ingestion

import "sync"

// keyedMutex はキー単位の排他制御を提供する。
// 同一ファイルIDへのupsertとdeleteの同時実行を直列化するために使う。
// 異なるキー同士は互いにブロックしない。
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		entries: make(map[string]*keyedMutexEntry),
	}
}

// Lock はキーに対応するロックを取得する
func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedMutexEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

// Unlock はキーに対応するロックを解放する。
// 待機者がいなくなったエントリはマップから除去する。
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if ok {
		entry.refs--
		if entry.refs <= 0 {
			delete(k.entries, key)
		}
	}
	k.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}
