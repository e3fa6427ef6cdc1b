package kioskapi

const homePage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Live attendance</title>
<style>
  body { font-family: sans-serif; margin: 0; display: flex; background: #111; color: #eee; }
  main { flex: 3; padding: 1rem; }
  aside { flex: 1; padding: 1rem; background: #1b1b1b; min-height: 100vh; }
  img { width: 100%; border-radius: 6px; background: #000; }
  .counts span { display: inline-block; margin-right: 1rem; font-size: 1.4rem; }
  .present { color: #4caf50; } .absent { color: #f44336; }
  li { list-style: none; padding: .2rem 0; }
  .note-success { color: #4caf50; } .note-warning { color: #ffb300; } .note-error { color: #f44336; }
</style>
</head>
<body>
<main>
  <img id="frame" alt="waiting for the camera...">
  <div class="counts">
    <span class="present">Present: <b id="present">0</b></span>
    <span class="absent">Absent: <b id="absent">0</b></span>
  </div>
  <ul id="notes"></ul>
</main>
<aside>
  <h3>Roll call</h3>
  <ul id="logs"></ul>
</aside>
<script>
function text(tag, cls, value) {
  const el = document.createElement(tag);
  el.className = cls;
  el.textContent = value;
  return el;
}
async function refresh() {
  try {
    const frame = await fetch("/frame.jpg", {cache: "no-store"});
    if (frame.status === 200) {
      const url = URL.createObjectURL(await frame.blob());
      const img = document.getElementById("frame");
      const old = img.src;
      img.src = url;
      if (old.startsWith("blob:")) URL.revokeObjectURL(old);
    }
    const rc = await (await fetch("/rollcall")).json();
    document.getElementById("present").textContent = rc.present_count;
    document.getElementById("absent").textContent = rc.absent_count;
    document.getElementById("logs").replaceChildren(...rc.logs.map(l =>
      text("li", l.status, (l.roll_number ? l.roll_number + " " : "") + (l.student_name || "#" + l.student_id))));
    const notes = await (await fetch("/notifications")).json();
    document.getElementById("notes").replaceChildren(...notes.slice(-5).reverse().map(n =>
      text("li", "note-" + n.level, n.message)));
  } catch (e) {}
}
setInterval(refresh, 250);
refresh();
</script>
</body>
</html>
`
