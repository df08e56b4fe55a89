package pmm

import "testing"

func TestNodePoolGetPut(t *testing.T) {
	var p nodePool
	storage := make([]node, 3)
	p.init(storage)

	var got []*node
	for i := 0; i < 3; i++ {
		n := p.get()
		if n == nil {
			t.Fatalf("expected a node on get() #%d", i)
		}
		got = append(got, n)
	}

	if n := p.get(); n != nil {
		t.Fatal("expected pool to be exhausted")
	}

	p.put(got[0])
	if n := p.get(); n != got[0] {
		t.Fatal("expected put() to return the node to the free chain")
	}
}

func TestNodePoolPutResetsAddr(t *testing.T) {
	var p nodePool
	storage := make([]node, 1)
	p.init(storage)

	n := p.get()
	n.addr = 0xdeadbeef
	p.put(n)

	if n.addr != 0 {
		t.Fatalf("expected put() to clear addr; got 0x%x", n.addr)
	}
}
