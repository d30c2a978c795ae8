package headless

import (
	"encoding/json"
	"fmt"
)

// registry holds element handles on the page window. A navigation replaces
// the window, which invalidates every handle issued for the previous page.
// Each window starts its sequence at a random offset so an old handle does
// not alias a node of the next page.
const registry = `(window.__jc = window.__jc || {seq: Math.floor(Math.random() * 1e6) * 1e6, nodes: {}})`

// pendingFlag holds the document URL at the time of the last Click. It
// vanishes with the old window on a full navigation and counts as settled
// once the URL differs, which covers history and hash based pagination.
const pendingFlag = `window.__jcPending`

type lookupResult struct {
	OK    bool    `json:"ok"`
	Stale bool    `json:"stale"`
	IDs   []int64 `json:"ids"`
}

type valueResult struct {
	OK    bool   `json:"ok"`
	Stale bool   `json:"stale"`
	Value string `json:"value"`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// lookupScript evaluates xpath relative to root (0 is the document) and
// registers up to limit matches; limit 0 registers all of them.
func lookupScript(root int64, xpath string, limit int) string {
	return fmt.Sprintf(`(() => {
	const reg = %s;
	const root = %d === 0 ? document : reg.nodes[%d];
	if (!root || !root.isConnected) return {ok: false, stale: true};
	const res = document.evaluate(%s, root, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const limit = %d > 0 ? Math.min(%d, res.snapshotLength) : res.snapshotLength;
	const ids = [];
	for (let i = 0; i < limit; i++) {
		const id = ++reg.seq;
		reg.nodes[id] = res.snapshotItem(i);
		ids.push(id);
	}
	return {ok: true, ids: ids};
})()`, registry, root, root, quote(xpath), limit, limit)
}

// elementScript runs body with el bound to the node behind id.
func elementScript(id int64, body string) string {
	return fmt.Sprintf(`(() => {
	const reg = window.__jc;
	const el = reg && reg.nodes[%d];
	if (!el || !el.isConnected) return {ok: false, stale: true};
	%s
})()`, id, body)
}

// attributeScript reads name from the element. href is read through the
// property so relative links come back absolute.
func attributeScript(id int64, name string) string {
	n := quote(name)
	return elementScript(id, fmt.Sprintf(`if (!el.hasAttribute(%s)) return {ok: false};
	if (%s === "href" && typeof el.href === "string") return {ok: true, value: el.href};
	return {ok: true, value: el.getAttribute(%s)};`, n, n, n))
}

func textScript(id int64) string {
	return elementScript(id, `const text = typeof el.innerText === "string" ? el.innerText : el.textContent;
	return {ok: true, value: text || ""};`)
}

func clickScript(id int64) string {
	return elementScript(id, pendingFlag+` = location.href;
	el.click();
	return {ok: true};`)
}

func scrollScript(id int64) string {
	return elementScript(id, `el.scrollIntoView({block: "center", inline: "nearest"});
	return {ok: true};`)
}

// readyScript is true once no click is pending, the document has parsed and
// xpath matches at least one node.
func readyScript(xpath string) string {
	return fmt.Sprintf(`(() => {
	const pending = %[1]s;
	if (typeof pending === "string") {
		if (pending === location.href) return false;
		delete %[1]s;
	}
	if (document.readyState === "loading") return false;
	return document.evaluate(%[2]s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue !== null;
})()`, pendingFlag, quote(xpath))
}
