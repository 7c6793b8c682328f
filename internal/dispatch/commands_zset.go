package dispatch

import (
	"math"
	"strconv"
	"strings"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/value"
)

func (d *Dispatcher) registerZSet() {
	d.register(commandSpec{name: "zadd", arity: -4, isWrite: true, handler: cmdZAdd})
	d.register(commandSpec{name: "zrem", arity: -3, isWrite: true, handler: cmdZRem})
	d.register(commandSpec{name: "zscore", arity: 3, handler: cmdZScore})
	d.register(commandSpec{name: "zmscore", arity: -3, handler: cmdZMScore})
	d.register(commandSpec{name: "zcard", arity: 2, handler: cmdZCard})
	d.register(commandSpec{name: "zincrby", arity: 4, isWrite: true, handler: cmdZIncrBy})
	d.register(commandSpec{name: "zrank", arity: 3, handler: cmdZRank})
	d.register(commandSpec{name: "zrevrank", arity: 3, handler: cmdZRevRank})
	d.register(commandSpec{name: "zrange", arity: -4, handler: cmdZRange})
	d.register(commandSpec{name: "zrevrange", arity: -4, handler: cmdZRevRange})
	d.register(commandSpec{name: "zrangebyscore", arity: -4, handler: cmdZRangeByScore})
	d.register(commandSpec{name: "zrevrangebyscore", arity: -4, handler: cmdZRevRangeByScore})
	d.register(commandSpec{name: "zcount", arity: 4, handler: cmdZCount})
	d.register(commandSpec{name: "zpopmin", arity: -2, isWrite: true, handler: cmdZPopMin})
	d.register(commandSpec{name: "zpopmax", arity: -2, isWrite: true, handler: cmdZPopMax})
}

func getZSet(ctx *Context, key string) (*value.ZSet, error) {
	v, ok := ctx.DB.Get(key)
	if !ok {
		return nil, nil
	}
	return value.As[*value.ZSet](v)
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'g', 17, 64)
}

func cmdZAdd(ctx *Context, args [][]byte) proto.Reply {
	i := 2
	var nx, xx, gt, lt, ch, incr bool
	for i < len(args) {
		opt := strings.ToUpper(string(args[i]))
		switch opt {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "GT":
			gt = true
		case "LT":
			lt = true
		case "CH":
			ch = true
		case "INCR":
			incr = true
		default:
			goto pairs
		}
		i++
	}
pairs:
	if (len(args)-i)%2 != 0 || len(args) == i {
		return proto.ErrReply(proto.ErrGeneric, "syntax error")
	}
	if nx && (gt || lt) {
		return proto.ErrReply(proto.ErrGeneric, "GT, LT, and/or NX options at the same time are not compatible")
	}

	type pair struct {
		score  float64
		member string
	}
	var pairs []pair
	for j := i; j < len(args); j += 2 {
		score, err := strconv.ParseFloat(string(args[j]), 64)
		if err != nil || math.IsNaN(score) {
			return proto.ErrReply(proto.ErrGeneric, "value is not a valid float")
		}
		pairs = append(pairs, pair{score: score, member: string(args[j+1])})
	}
	if incr && len(pairs) != 1 {
		return proto.ErrReply(proto.ErrGeneric, "INCR option supports a single increment-element pair")
	}

	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	z, err := getZSet(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if z == nil {
		z = value.NewZSet()
		ctx.DB.Set(key, z)
	}

	added, changed := 0, 0
	var incrResult float64
	var incrSkipped bool
	for _, p := range pairs {
		existing, exists := z.Score(p.member)
		if nx && exists {
			if incr {
				incrSkipped = true
			}
			continue
		}
		if xx && !exists {
			if incr {
				incrSkipped = true
			}
			continue
		}
		newScore := p.score
		if incr {
			newScore = existing + p.score
		}
		if exists {
			if gt && newScore <= existing {
				if incr {
					incrSkipped = true
				}
				continue
			}
			if lt && newScore >= existing {
				if incr {
					incrSkipped = true
				}
				continue
			}
		}
		chg, isNew, addErr := z.Add(p.member, newScore)
		if addErr != nil {
			return proto.ErrReply(proto.ErrGeneric, "%s", addErr.Error())
		}
		if isNew {
			added++
		}
		if chg {
			changed++
		}
		incrResult = newScore
	}
	ctx.DB.Touch(key)

	if incr {
		if incrSkipped {
			return proto.NilBulk{}
		}
		return proto.Bulk{Data: []byte(formatScore(incrResult))}
	}
	if ch {
		return proto.Integer(int64(changed))
	}
	return proto.Integer(int64(added))
}

func cmdZRem(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	z, err := getZSet(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if z == nil {
		return proto.Integer(0)
	}
	removed := 0
	for _, m := range args[2:] {
		if z.Remove(string(m)) {
			removed++
		}
	}
	if z.Len() == 0 {
		ctx.DB.Delete(key)
	} else if removed > 0 {
		ctx.DB.Touch(key)
	}
	return proto.Integer(int64(removed))
}

func cmdZScore(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	z, err := getZSet(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if z == nil {
		return proto.NilBulk{}
	}
	s, ok := z.Score(string(args[2]))
	if !ok {
		return proto.NilBulk{}
	}
	return proto.Bulk{Data: []byte(formatScore(s))}
}

func cmdZMScore(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	z, err := getZSet(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	out := make([][]byte, len(args)-2)
	for i, m := range args[2:] {
		if z == nil {
			out[i] = nil
			continue
		}
		s, ok := z.Score(string(m))
		if !ok {
			out[i] = nil
			continue
		}
		out[i] = []byte(formatScore(s))
	}
	return proto.BulkArray(out)
}

func cmdZCard(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	z, err := getZSet(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if z == nil {
		return proto.Integer(0)
	}
	return proto.Integer(int64(z.Len()))
}

func cmdZIncrBy(ctx *Context, args [][]byte) proto.Reply {
	delta, err := strconv.ParseFloat(string(args[2]), 64)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not a valid float")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	z, zerr := getZSet(ctx, key)
	if zerr != nil {
		return wrongTypeReply(zerr)
	}
	if z == nil {
		z = value.NewZSet()
		ctx.DB.Set(key, z)
	}
	n, ierr := z.IncrBy(string(args[3]), delta)
	if ierr != nil {
		return proto.ErrReply(proto.ErrGeneric, "%s", ierr.Error())
	}
	ctx.DB.Touch(key)
	return proto.Bulk{Data: []byte(formatScore(n))}
}

func cmdZRank(ctx *Context, args [][]byte) proto.Reply  { return zRankHelper(ctx, args, false) }
func cmdZRevRank(ctx *Context, args [][]byte) proto.Reply { return zRankHelper(ctx, args, true) }

func zRankHelper(ctx *Context, args [][]byte, rev bool) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	z, err := getZSet(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if z == nil {
		return proto.NilBulk{}
	}
	r := z.Rank(string(args[2]))
	if r < 0 {
		return proto.NilBulk{}
	}
	if rev {
		r = z.Len() - 1 - r
	}
	return proto.Integer(int64(r))
}

func zEntriesToReply(entries []value.ZEntry, withScores bool) proto.Reply {
	var out [][]byte
	for _, e := range entries {
		out = append(out, []byte(e.Member))
		if withScores {
			out = append(out, []byte(formatScore(e.Score)))
		}
	}
	return proto.BulkArray(out)
}

func cmdZRange(ctx *Context, args [][]byte) proto.Reply { return zRangeByRank(ctx, args, false) }
func cmdZRevRange(ctx *Context, args [][]byte) proto.Reply { return zRangeByRank(ctx, args, true) }

func zRangeByRank(ctx *Context, args [][]byte, rev bool) proto.Reply {
	start, err1 := strconv.Atoi(string(args[2]))
	stop, err2 := strconv.Atoi(string(args[3]))
	if err1 != nil || err2 != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	withScores := false
	for _, a := range args[4:] {
		if strings.ToUpper(string(a)) == "WITHSCORES" {
			withScores = true
		}
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	z, err := getZSet(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if z == nil {
		return proto.Array{}
	}
	entries := z.RangeByRank(start, stop, rev)
	return zEntriesToReply(entries, withScores)
}

func parseScoreBound(s string) (float64, bool, error) {
	excl := strings.HasPrefix(s, "(")
	if excl {
		s = s[1:]
	}
	switch s {
	case "-inf":
		return math.Inf(-1), excl, nil
	case "+inf", "inf":
		return math.Inf(1), excl, nil
	default:
		f, err := strconv.ParseFloat(s, 64)
		return f, excl, err
	}
}

func parseScoreRange(minS, maxS string) (value.ScoreRange, error) {
	min, minExcl, err := parseScoreBound(minS)
	if err != nil {
		return value.ScoreRange{}, err
	}
	max, maxExcl, err := parseScoreBound(maxS)
	if err != nil {
		return value.ScoreRange{}, err
	}
	return value.ScoreRange{Min: min, Max: max, MinExcl: minExcl, MaxExcl: maxExcl}, nil
}

func cmdZRangeByScore(ctx *Context, args [][]byte) proto.Reply {
	return zRangeByScoreHelper(ctx, args, false)
}
func cmdZRevRangeByScore(ctx *Context, args [][]byte) proto.Reply {
	return zRangeByScoreHelper(ctx, args, true)
}

func zRangeByScoreHelper(ctx *Context, args [][]byte, rev bool) proto.Reply {
	minArg, maxArg := string(args[2]), string(args[3])
	if rev {
		minArg, maxArg = maxArg, minArg
	}
	r, err := parseScoreRange(minArg, maxArg)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "min or max is not a float")
	}
	withScores := false
	offset, count := 0, -1
	for i := 4; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "WITHSCORES":
			withScores = true
		case "LIMIT":
			if i+2 >= len(args) {
				return proto.ErrReply(proto.ErrGeneric, "syntax error")
			}
			offset, _ = strconv.Atoi(string(args[i+1]))
			count, _ = strconv.Atoi(string(args[i+2]))
			i += 2
		}
	}

	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	z, zerr := getZSet(ctx, string(args[1]))
	if zerr != nil {
		return wrongTypeReply(zerr)
	}
	if z == nil {
		return proto.Array{}
	}
	entries := z.RangeByScore(r, offset, count, rev)
	return zEntriesToReply(entries, withScores)
}

func cmdZCount(ctx *Context, args [][]byte) proto.Reply {
	r, err := parseScoreRange(string(args[2]), string(args[3]))
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "min or max is not a float")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	z, zerr := getZSet(ctx, string(args[1]))
	if zerr != nil {
		return wrongTypeReply(zerr)
	}
	if z == nil {
		return proto.Integer(0)
	}
	entries := z.RangeByScore(r, 0, -1, false)
	return proto.Integer(int64(len(entries)))
}

func cmdZPopMin(ctx *Context, args [][]byte) proto.Reply { return zPopHelper(ctx, args, false) }
func cmdZPopMax(ctx *Context, args [][]byte) proto.Reply { return zPopHelper(ctx, args, true) }

func zPopHelper(ctx *Context, args [][]byte, max bool) proto.Reply {
	count := 1
	if len(args) == 3 {
		n, err := strconv.Atoi(string(args[2]))
		if err != nil || n < 0 {
			return proto.ErrReply(proto.ErrGeneric, "value is out of range, must be positive")
		}
		count = n
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	z, err := getZSet(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if z == nil || count == 0 {
		return proto.Array{}
	}
	entries := z.RangeByRank(0, count-1, max)
	for _, e := range entries {
		z.Remove(e.Member)
	}
	if z.Len() == 0 {
		ctx.DB.Delete(key)
	} else {
		ctx.DB.Touch(key)
	}
	return zEntriesToReply(entries, true)
}
