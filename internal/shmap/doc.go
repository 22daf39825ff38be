// Package shmap provides the concurrent map that lives in the shared region.
//
// Every operation acquires the map's RWMutex for the duration of that single
// call and releases it before returning, so each Get or Put is an
// acquire/release synchronization point and no lock is ever held across a
// task boundary or a suspension point.
//
//	m := shmap.New[string, []byte]()
//	m.Put("answer", []byte("42"))
//	if v, ok := m.Get("answer"); ok {
//	    fmt.Println(string(v))
//	}
//
// A miss is reported as ok == false; it is a valid result, not an error.
// Concurrent Puts to one key resolve last-write-wins in mutex order.
package shmap
