package megadex

import (
	"errors"
	"slices"
	"testing"
)

type veggie struct {
	Name   string
	Flavor string
	Color  string
	Weight int
}

func openVeggies(t testing.TB, env *Env, opts ...StoreOption) *Store[veggie] {
	t.Helper()
	return must(OpenStore[veggie](env, []string{"flavor", "color"}, opts...))
}

func (v *veggie) index() []IndexValue {
	return []IndexValue{Index("flavor", v.Flavor), Index("color", v.Color)}
}

func putVeggie(t testing.TB, s *Store[veggie], v *veggie) {
	t.Helper()
	ok(t, s.Put([]byte(v.Name), v, v.index()...))
}

func veggieNames(list []*veggie) []string {
	names := make([]string, len(list))
	for i, v := range list {
		names[i] = v.Name
	}
	slices.Sort(names)
	return names
}

var (
	garlic  = veggie{Name: "garlic", Flavor: "bold", Color: "white", Weight: 50}
	rhubarb = veggie{Name: "rhubarb", Flavor: "bold", Color: "red", Weight: 300}
	leek    = veggie{Name: "leek", Flavor: "mild", Color: "green", Weight: 200}
)

func TestStore_RoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *Env) {
		s := openVeggies(t, env)
		putVeggie(t, s, &garlic)

		got := must(s.Get([]byte("garlic")))
		deepEqual(t, got, &garlic)

		isnil(t, must(s.Get([]byte("onion"))))
	})
}

func TestStore_GarlicAndRhubarb(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *Env) {
		s := must(OpenStore[veggie](env, []string{"flavor"}))
		ok(t, s.Put([]byte("garlic"), &veggie{Name: "garlic", Flavor: "bold"}, Index("flavor", "bold")))
		ok(t, s.Put([]byte("rhubarb"), &veggie{Name: "rhubarb", Flavor: "bold"}, Index("flavor", "bold")))

		deepEqual(t, veggieNames(must(s.GetByField("flavor", []byte("bold")))), []string{"garlic", "rhubarb"})

		ok(t, s.Delete([]byte("garlic"), Index("flavor", "bold")))

		isnil(t, must(s.Get([]byte("garlic"))))
		deepEqual(t, veggieNames(must(s.GetByField("flavor", []byte("bold")))), []string{"rhubarb"})
	})
}

func TestStore_IndexCompleteness(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	all := []veggie{garlic, rhubarb, leek}
	for i := range all {
		putVeggie(t, s, &all[i])
	}
	for _, v := range all {
		for _, iv := range v.index() {
			found := must(s.GetByField(iv.Field, iv.Value))
			var n int
			for _, r := range found {
				if r.Name == v.Name {
					n++
				}
			}
			if n != 1 {
				t.Errorf("GetByField(%s) contains %s %d times, wanted once", iv, v.Name, n)
			}
		}
	}
}

func TestStore_SharedValueOrderIsStable(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	putVeggie(t, s, &rhubarb)
	putVeggie(t, s, &garlic)

	first := strs(must(s.GetIDsByField("flavor", []byte("bold"))))
	deepEqual(t, first, []string{"garlic", "rhubarb"})
	for i := 0; i < 3; i++ {
		deepEqual(t, strs(must(s.GetIDsByField("flavor", []byte("bold")))), first)
	}
}

func TestStore_DeleteRemovesIndexEntries(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	putVeggie(t, s, &garlic)
	putVeggie(t, s, &leek)

	ok(t, s.Delete([]byte("garlic"), garlic.index()...))

	isnil(t, must(s.Get([]byte("garlic"))))
	isempty(t, must(s.GetByField("flavor", []byte("bold"))))
	isempty(t, must(s.GetIDsByField("color", []byte("white"))))
	deepEqual(t, veggieNames(must(s.GetByField("flavor", []byte("mild")))), []string{"leek"})

	st := must(s.Stats())
	deepEqual(t, st, StoreStats{Records: 1, Entries: map[string]int{"flavor": 1, "color": 1}})
}

func TestStore_RePutIsIdempotent(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	putVeggie(t, s, &garlic)
	putVeggie(t, s, &garlic)

	deepEqual(t, must(s.Get([]byte("garlic"))), &garlic)
	deepEqual(t, strs(must(s.GetIDsByField("flavor", []byte("bold")))), []string{"garlic"})
	deepEqual(t, must(s.Stats()), StoreStats{Records: 1, Entries: map[string]int{"flavor": 1, "color": 1}})
}

func TestStore_RePutKeepsOldIndexEntries(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	putVeggie(t, s, &garlic)

	changed := garlic
	changed.Flavor = "mellow"
	putVeggie(t, s, &changed)

	deepEqual(t, strs(must(s.GetIDsByField("flavor", []byte("bold")))), []string{"garlic"})
	deepEqual(t, strs(must(s.GetIDsByField("flavor", []byte("mellow")))), []string{"garlic"})
}

func TestStore_UnknownField(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)

	_, err := s.GetByField("nonexistent", []byte("x"))
	isKind(t, err, IndexUndefined)
	var e *Error
	if !errors.As(err, &e) || e.Field != "nonexistent" {
		t.Fatalf("err = %v, wanted IndexUndefined(nonexistent)", err)
	}

	_, err = s.GetIDsByField("nonexistent", []byte("x"))
	isKind(t, err, IndexUndefined)
	_, err = s.GetIDsByFieldStrict("nonexistent", []byte("x"))
	isKind(t, err, IndexUndefined)

	err = s.Put([]byte("garlic"), &garlic, Index("flavor", "bold"), Index("nonexistent", "x"))
	isKind(t, err, IndexUndefined)
	isnil(t, must(s.Get([]byte("garlic"))))
	isempty(t, must(s.GetIDsByField("flavor", []byte("bold"))))

	putVeggie(t, s, &garlic)
	isKind(t, s.Delete([]byte("garlic"), Index("nonexistent", "x")), IndexUndefined)
	isnonnil(t, must(s.Get([]byte("garlic"))))
}

func TestStore_StaleDeleteFails(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *Env) {
		s := openVeggies(t, env)
		putVeggie(t, s, &garlic)

		err := s.Delete([]byte("garlic"), Index("flavor", "mild"), Index("color", "white"))
		isKind(t, err, ValueError)

		deepEqual(t, must(s.Get([]byte("garlic"))), &garlic)
		deepEqual(t, strs(must(s.GetIDsByField("flavor", []byte("bold")))), []string{"garlic"})
		deepEqual(t, strs(must(s.GetIDsByField("color", []byte("white")))), []string{"garlic"})

		isKind(t, s.Delete([]byte("onion")), ValueError)
	})
}

func TestStore_FailedUpdateLeavesNoTrace(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	putVeggie(t, s, &leek)

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		err := env.Update(func(tx *Tx) error {
			ok(t, s.PutTx(tx, []byte("garlic"), &garlic, garlic.index()...))
			ok(t, s.DeleteTx(tx, []byte("leek"), leek.index()...))
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Update = %v, wanted boom", err)
		}
	})
	t.Run("failing second write", func(t *testing.T) {
		err := env.Update(func(tx *Tx) error {
			ok(t, s.PutTx(tx, []byte("garlic"), &garlic, garlic.index()...))
			return s.PutTx(tx, []byte("rhubarb"), &rhubarb, Index("shape", "stalk"))
		})
		isKind(t, err, IndexUndefined)
	})
	t.Run("panic", func(t *testing.T) {
		err := env.Update(func(tx *Tx) error {
			ok(t, s.PutTx(tx, []byte("garlic"), &garlic, garlic.index()...))
			panic("kaboom")
		})
		if err == nil {
			t.Fatalf("Update after panic = nil, wanted error")
		}
	})

	isnil(t, must(s.Get([]byte("garlic"))))
	isempty(t, must(s.GetIDsByField("flavor", []byte("bold"))))
	deepEqual(t, must(s.Get([]byte("leek"))), &leek)
	deepEqual(t, strs(must(s.GetIDsByField("flavor", []byte("mild")))), []string{"leek"})
	deepEqual(t, env.OpenTxnCount(), 0)
}

func TestStore_ReadersSeeSnapshot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *Env) {
		s := openVeggies(t, env)
		putVeggie(t, s, &leek)

		before := must(env.BeginRead())
		defer before.Close()

		putVeggie(t, s, &garlic)
		ok(t, s.Delete([]byte("leek"), leek.index()...))

		isnil(t, must(s.GetTx(before, []byte("garlic"))))
		isempty(t, must(s.GetIDsByFieldTx(before, "flavor", []byte("bold"))))
		deepEqual(t, must(s.GetTx(before, []byte("leek"))), &leek)
		deepEqual(t, veggieNames(must(s.GetByFieldTx(before, "color", []byte("green")))), []string{"leek"})

		isnil(t, must(s.Get([]byte("leek"))))
		deepEqual(t, veggieNames(must(s.GetByField("flavor", []byte("bold")))), []string{"garlic"})
	})
}

// injectBadEntries adds an unreadable index entry (zucchini) and, if dangling
// is set, an entry pointing at a record that doesn't exist (kale).
func injectBadEntries(t *testing.T, env *Env, s *Store[veggie], dangling bool) {
	t.Helper()
	ok(t, env.Update(func(tx *Tx) error {
		rel := must(s.FieldRelation("flavor"))
		ok(t, tx.etx.Bucket(rel.Name()).Put(multiKey(nil, []byte("bold"), []byte("zucchini")), []byte{tagBlob}))
		if dangling {
			ok(t, tx.Put(rel, []byte("bold"), []byte("kale")))
		}
		return nil
	}))
}

func TestStore_BestEffortSkipsUnreadableEntries(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	putVeggie(t, s, &garlic)
	putVeggie(t, s, &rhubarb)
	injectBadEntries(t, env, s, false)

	deepEqual(t, strs(must(s.GetIDsByField("flavor", []byte("bold")))), []string{"garlic", "rhubarb"})

	_, err := s.GetIDsByFieldStrict("flavor", []byte("bold"))
	isKind(t, err, InvalidType)
	_, err = s.GetByField("flavor", []byte("bold"))
	isKind(t, err, InvalidType)
}

func TestStore_DanglingEntry(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	putVeggie(t, s, &garlic)
	putVeggie(t, s, &rhubarb)
	injectBadEntries(t, env, s, true)

	// best effort doesn't look at the records
	deepEqual(t, strs(must(s.GetIDsByField("flavor", []byte("bold")))), []string{"garlic", "kale", "rhubarb"})

	_, err := s.GetIDsByFieldStrict("flavor", []byte("bold"))
	isKind(t, err, ValueError)
	_, err = s.GetByField("flavor", []byte("bold"))
	isKind(t, err, ValueError)
}

func TestStore_CheckAndPrune(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	putVeggie(t, s, &garlic)
	putVeggie(t, s, &rhubarb)
	injectBadEntries(t, env, s, true)
	ok(t, env.Update(func(tx *Tx) error {
		return tx.Put(s.Primary(), []byte("mystery"), []byte{0xc1})
	}))

	var issues []Inconsistency
	ok(t, env.View(func(tx *Tx) error {
		var err error
		issues, err = s.Check(tx)
		return err
	}))
	if len(issues) != 3 {
		t.Fatalf("Check found %d issues, wanted 3: %v", len(issues), issues)
	}
	deepEqual(t, issues[0].Field, "")
	deepEqual(t, string(issues[0].ID), "mystery")
	deepEqual(t, issues[1].String(), `flavor="bold": dangling id "kale"`)
	isKind(t, issues[2].Err, InvalidType)

	deepEqual(t, must(s.Prune()), 2)

	ok(t, env.View(func(tx *Tx) error {
		issues = must(s.Check(tx))
		return nil
	}))
	deepEqual(t, len(issues), 1)
	deepEqual(t, strs(must(s.GetIDsByFieldStrict("flavor", []byte("bold")))), []string{"garlic", "rhubarb"})
}

func TestStore_Namespaces(t *testing.T) {
	env := setup(t)
	veg := openVeggies(t, env, Namespace("veg"))
	fruit := openVeggies(t, env, Namespace("fruit"))
	plain := openVeggies(t, env)

	putVeggie(t, veg, &garlic)
	putVeggie(t, fruit, &rhubarb)

	isnil(t, must(fruit.Get([]byte("garlic"))))
	isnil(t, must(plain.Get([]byte("garlic"))))
	deepEqual(t, veggieNames(must(veg.GetByField("flavor", []byte("bold")))), []string{"garlic"})
	deepEqual(t, veg.Primary().Name(), "veg._main_")
	deepEqual(t, plain.Primary().Name(), PrimaryRelation)
	deepEqual(t, must(fruit.FieldRelation("color")).Name(), "fruit.color")
	deepEqual(t, veg.Fields(), []string{"flavor", "color"})
}

func TestStore_JSONCodec(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env, WithCodec(JSON))
	putVeggie(t, s, &garlic)
	deepEqual(t, must(s.Get([]byte("garlic"))), &garlic)
	ok(t, env.View(func(tx *Tx) error {
		raw := must(tx.Get(s.Primary(), []byte("garlic")))
		deepEqual(t, string(raw), `{"Name":"garlic","Flavor":"bold","Color":"white","Weight":50}`)
		return nil
	}))
}

func TestStore_NilRecord(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	isKind(t, s.Put([]byte("garlic"), nil), CodecError)
}

func TestStore_UndecodableRecord(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	ok(t, env.Update(func(tx *Tx) error {
		return tx.Put(s.Primary(), []byte("mystery"), []byte{0xc1})
	}))
	_, err := s.Get([]byte("mystery"))
	isKind(t, err, CodecError)
}

func TestStore_OnChange(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env, Namespace("veg"))
	var changes []string
	ok(t, env.Update(func(tx *Tx) error {
		tx.OnChange(func(chg *Change) {
			changes = append(changes, chg.String())
			if chg.Store() != "veg" || len(chg.Index()) != 2 {
				t.Errorf("unexpected change %v with index %v", chg, chg.Index())
			}
		})
		ok(t, s.PutTx(tx, []byte("garlic"), &garlic, garlic.index()...))
		return s.DeleteTx(tx, []byte("garlic"), garlic.index()...)
	}))
	deepEqual(t, changes, []string{`put veg/"garlic"`, `delete veg/"garlic"`})
}

func TestStore_OnChangeBeforeCommit(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env)
	var changes []string
	err := env.Update(func(tx *Tx) error {
		tx.OnChange(func(chg *Change) {
			changes = append(changes, chg.String())
		})
		ok(t, s.PutTx(tx, []byte("leek"), &leek, leek.index()...))
		return errors.New("abandon")
	})
	if err == nil {
		t.Fatalf("Update = nil, wanted error")
	}
	deepEqual(t, changes, []string{`put /"leek"`})
	isnil(t, must(s.Get([]byte("leek"))))
}

func TestStore_ReadOnlyOpen(t *testing.T) {
	env := setup(t)
	s := openVeggies(t, env, Namespace("veg"))
	putVeggie(t, s, &garlic)

	ro := must(OpenStore[veggie](env, []string{"color"}, Namespace("veg"), ReadOnly()))
	deepEqual(t, veggieNames(must(ro.GetByField("color", []byte(garlic.Color)))), []string{"garlic"})

	_, err := OpenStore[veggie](env, []string{"color", "weight"}, Namespace("veg"), ReadOnly())
	isKind(t, err, IndexUndefined)
	_, err = OpenStore[veggie](env, nil, Namespace("fruit"), ReadOnly())
	isKind(t, err, EngineError)

	ok(t, env.View(func(tx *Tx) error {
		isnil(t, must(tx.Relation("veg.weight")))
		isnil(t, must(tx.Relation("fruit._main_")))
		return nil
	}))
}
